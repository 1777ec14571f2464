package call

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeAccessor struct {
	mu       sync.Mutex
	appt     Appointment
	getErr   error
	raceLink string // installed by a "competing client" just before our write
	setCalls []string
	subs     map[int]chan Appointment
	nextSub  int
}

func newFakeAccessor(appt Appointment) *fakeAccessor {
	return &fakeAccessor{
		appt: appt,
		subs: make(map[int]chan Appointment),
	}
}

func (f *fakeAccessor) GetAppointmentByID(_ context.Context, _ uint) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	appt := f.appt
	return &appt, nil
}

func (f *fakeAccessor) SetMeetingLink(_ context.Context, _ uint, url string) error {
	f.mu.Lock()
	f.setCalls = append(f.setCalls, url)
	if f.raceLink != "" && f.appt.MeetingLink == "" {
		f.appt.MeetingLink = f.raceLink
		f.raceLink = ""
	}
	if f.appt.MeetingLink == url {
		f.mu.Unlock()
		return nil
	}
	if f.appt.MeetingLink != "" {
		f.mu.Unlock()
		return ErrLinkAlreadySet
	}
	f.appt.MeetingLink = url
	appt := f.appt
	subs := make([]chan Appointment, 0, len(f.subs))
	for _, ch := range f.subs {
		subs = append(subs, ch)
	}
	f.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- appt:
		default:
		}
	}
	return nil
}

func (f *fakeAccessor) Subscribe(_ uint) (<-chan Appointment, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	ch := make(chan Appointment, 8)
	f.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
			close(ch)
		})
	}
}

// push delivers an appointment change to all subscribers, as the
// realtime feed would.
func (f *fakeAccessor) push(appt Appointment) {
	f.mu.Lock()
	subs := make([]chan Appointment, 0, len(f.subs))
	for _, ch := range f.subs {
		subs = append(subs, ch)
	}
	f.mu.Unlock()
	for _, ch := range subs {
		ch <- appt
	}
}

type fakeProvider struct {
	mu          sync.Mutex
	createCalls int
	createErr   error
	deleted     []string
}

func (f *fakeProvider) CreateRoom(_ context.Context, params CreateRoomParams) (*Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &Room{Name: params.Name, URL: "https://x.daily.co/" + params.Name}, nil
}

func (f *fakeProvider) GetRoomDetails(_ context.Context, name string) (*Room, error) {
	return &Room{Name: name, URL: "https://x.daily.co/" + name}, nil
}

func (f *fakeProvider) DeleteRoom(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

type fakeFrame struct {
	factory   *fakeFrameFactory
	onEvent   func(FrameEvent)
	joinErr   error
	mu        sync.Mutex
	left      bool
	destroyed bool
}

func (f *fakeFrame) Join(_ context.Context) error {
	if f.joinErr != nil {
		return f.joinErr
	}
	f.onEvent(FrameEventJoined)
	return nil
}

func (f *fakeFrame) Leave() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = true
	return nil
}

func (f *fakeFrame) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
	return nil
}

func (f *fakeFrame) isDestroyed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

type fakeFrameFactory struct {
	mu      sync.Mutex
	frames  []*fakeFrame
	joinErr error
}

func (f *fakeFrameFactory) NewFrame(_ string, _ bool, onEvent func(FrameEvent)) (Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	frame := &fakeFrame{factory: f, onEvent: onEvent, joinErr: f.joinErr}
	f.frames = append(f.frames, frame)
	return frame, nil
}

type fakeDevices struct {
	mu       sync.Mutex
	denied   bool
	requests []bool // video flag per request
}

func (f *fakeDevices) RequestAccess(_ context.Context, video bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, video)
	if f.denied {
		return ErrPermissionDenied
	}
	return nil
}

func videoAppointment(id uint) Appointment {
	return Appointment{
		ID:          id,
		PatientID:   10,
		MentorID:    20,
		Status:      "confirmed",
		MeetingType: "video",
		StartTime:   time.Now(),
		EndTime:     time.Now().Add(time.Hour),
	}
}

type testEnv struct {
	accessor *fakeAccessor
	provider *fakeProvider
	factory  *fakeFrameFactory
	devices  *fakeDevices
	frames   *FrameRegistry
}

func newTestEnv(appt Appointment) *testEnv {
	return &testEnv{
		accessor: newFakeAccessor(appt),
		provider: &fakeProvider{},
		factory:  &fakeFrameFactory{},
		devices:  &fakeDevices{},
		frames:   NewFrameRegistry(),
	}
}

func (e *testEnv) controller(role Role, onChange func(Snapshot)) *Controller {
	return NewController(ControllerConfig{
		AppointmentID: e.accessor.appt.ID,
		Role:          role,
		Accessor:      e.accessor,
		Provider:      e.provider,
		FrameFactory:  e.factory,
		Devices:       e.devices,
		Frames:        e.frames,
		OnChange:      onChange,
	})
}

func TestMentorAllocatesRoomAndBecomesReady(t *testing.T) {
	env := newTestEnv(videoAppointment(1))
	c := env.controller(RoleMentor, nil)
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	snap := c.Snapshot()
	if snap.State != StateReady {
		t.Fatalf("expected Ready, got %q", snap.State)
	}
	if snap.RoomURL == "" {
		t.Fatal("expected a room URL after allocation")
	}
	if got := env.provider.calls(); got != 1 {
		t.Fatalf("expected exactly one room creation, got %d", got)
	}
	if len(env.accessor.setCalls) != 1 {
		t.Fatalf("expected one meeting-link write, got %d", len(env.accessor.setCalls))
	}
}

func TestSecondMountReusesPersistedLink(t *testing.T) {
	env := newTestEnv(videoAppointment(2))

	first := env.controller(RoleMentor, nil)
	defer first.Close()
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}

	second := env.controller(RoleMentor, nil)
	defer second.Close()
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}

	if got := env.provider.calls(); got != 1 {
		t.Fatalf("second mount must reuse the persisted link; provider called %d times", got)
	}
	if second.Snapshot().RoomURL != first.Snapshot().RoomURL {
		t.Fatal("both mounts should share the same room URL")
	}
}

func TestLostAllocationRaceReusesStoredLink(t *testing.T) {
	env := newTestEnv(videoAppointment(3))
	// A competing client writes its link between our fetch and our
	// write; our SetMeetingLink must lose.
	raced := "https://x.daily.co/raced-room"
	env.accessor.raceLink = raced

	c := env.controller(RoleMentor, nil)
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	snap := c.Snapshot()
	if snap.State != StateReady {
		t.Fatalf("expected Ready, got %q", snap.State)
	}
	if snap.RoomURL != raced {
		t.Fatalf("expected the stored link %q to win, got %q", raced, snap.RoomURL)
	}

	// The room we created but could not persist must be discarded.
	env.provider.mu.Lock()
	deleted := len(env.provider.deleted)
	env.provider.mu.Unlock()
	if deleted != 1 {
		t.Fatalf("expected the losing room to be deleted, got %d deletions", deleted)
	}
}

func TestPatientNeverCreatesRoom(t *testing.T) {
	env := newTestEnv(videoAppointment(4))
	c := env.controller(RolePatient, nil)
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	snap := c.Snapshot()
	if snap.State != StateWaitingForHost {
		t.Fatalf("expected WaitingForHost, got %q", snap.State)
	}
	if snap.ErrorMessage != "" {
		t.Fatalf("waiting is not an error, got %q", snap.ErrorMessage)
	}
	if got := env.provider.calls(); got != 0 {
		t.Fatalf("patient must never allocate, provider called %d times", got)
	}
}

func TestPatientAdvancesOnRealtimeLink(t *testing.T) {
	env := newTestEnv(videoAppointment(5))
	c := env.controller(RolePatient, nil)
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	appt := env.accessor.appt
	appt.MeetingLink = "https://x.daily.co/room5"
	env.accessor.push(appt)

	waitForState(t, c, StateReady)
	if got := c.Snapshot().RoomURL; got != "https://x.daily.co/room5" {
		t.Fatalf("unexpected room URL %q", got)
	}
}

func TestDuplicateLinkDeliveryIsIdempotent(t *testing.T) {
	env := newTestEnv(videoAppointment(6))

	var mu sync.Mutex
	readyTransitions := 0
	c := env.controller(RolePatient, func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if s.State == StateReady {
			readyTransitions++
		}
	})
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	appt := env.accessor.appt
	appt.MeetingLink = "https://x.daily.co/room6"
	env.accessor.push(appt)
	env.accessor.push(appt) // duplicate delivery, e.g. fetch + realtime

	waitForState(t, c, StateReady)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	got := readyTransitions
	mu.Unlock()
	if got != 1 {
		t.Fatalf("duplicate link must not re-transition; saw %d Ready transitions", got)
	}
	if c.Snapshot().State != StateReady {
		t.Fatalf("expected Ready, got %q", c.Snapshot().State)
	}
}

func TestAuthFailureIsClassifiedDistinctly(t *testing.T) {
	env := newTestEnv(videoAppointment(7))
	env.provider.createErr = &RoomError{Kind: ErrorKindAuth, StatusCode: 401, Message: "invalid key"}

	c := env.controller(RoleMentor, nil)
	defer c.Close()

	err := c.Start(context.Background())
	if err == nil {
		t.Fatal("expected allocation error")
	}
	if kind := RoomErrorKind(err); kind != ErrorKindAuth {
		t.Fatalf("expected auth kind, got %q", kind)
	}

	snap := c.Snapshot()
	if snap.State != StateError {
		t.Fatalf("expected Error state, got %q", snap.State)
	}
	if !strings.Contains(snap.ErrorMessage, "credentials") {
		t.Fatalf("auth failures need a credential-specific message, got %q", snap.ErrorMessage)
	}
}

func TestNetworkFailureMessageDiffersFromAuth(t *testing.T) {
	env := newTestEnv(videoAppointment(8))
	env.provider.createErr = &RoomError{Kind: ErrorKindNetwork, Message: "dial timeout"}

	c := env.controller(RoleMentor, nil)
	defer c.Close()

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected allocation error")
	}
	msg := c.Snapshot().ErrorMessage
	if strings.Contains(msg, "credentials") {
		t.Fatalf("network failure must not read as a credential problem: %q", msg)
	}
	if !strings.Contains(msg, "connection") {
		t.Fatalf("expected connectivity guidance, got %q", msg)
	}
}

func TestPermissionDenialReportsAndStopsSpinner(t *testing.T) {
	env := newTestEnv(videoAppointment(9))
	env.devices.denied = true

	c := env.controller(RoleMentor, nil)
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Join(context.Background()); err != ErrPermissionDenied {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	snap := c.Snapshot()
	if snap.State != StateError {
		t.Fatalf("expected Error state, got %q", snap.State)
	}
	if snap.IsInitializing {
		t.Fatal("initializing spinner must disappear on denial")
	}
	if !strings.Contains(snap.ErrorMessage, "denied") {
		t.Fatalf("expected permission-specific message, got %q", snap.ErrorMessage)
	}
}

func TestAudioOnlyNeverRequestsCamera(t *testing.T) {
	appt := videoAppointment(10)
	appt.MeetingType = "audio"
	env := newTestEnv(appt)

	c := env.controller(RoleMentor, nil)
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	env.devices.mu.Lock()
	defer env.devices.mu.Unlock()
	if len(env.devices.requests) != 1 {
		t.Fatalf("expected one device request, got %d", len(env.devices.requests))
	}
	if env.devices.requests[0] {
		t.Fatal("audio-only session requested the camera")
	}
}

func TestJoinFailureRevertsToReady(t *testing.T) {
	env := newTestEnv(videoAppointment(11))
	env.factory.joinErr = context.DeadlineExceeded

	c := env.controller(RoleMentor, nil)
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Join(context.Background()); err == nil {
		t.Fatal("expected join failure")
	}

	snap := c.Snapshot()
	if snap.State != StateReady {
		t.Fatalf("join failure with a known room must revert to Ready, got %q", snap.State)
	}
	if env.frames.Count() != 0 {
		t.Fatalf("failed join left %d frames registered", env.frames.Count())
	}
}

func TestJoinReachesInCall(t *testing.T) {
	env := newTestEnv(videoAppointment(12))
	c := env.controller(RoleMentor, nil)
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	snap := c.Snapshot()
	if snap.State != StateInCall || !snap.IsCallStarted {
		t.Fatalf("expected InCall, got %q", snap.State)
	}
	if env.frames.Count() != 1 {
		t.Fatalf("expected exactly one live frame, got %d", env.frames.Count())
	}
}

func TestSecondJoinPurgesOrphanFrames(t *testing.T) {
	env := newTestEnv(videoAppointment(13))
	c := env.controller(RoleMentor, nil)
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	// Simulate the remote side ending the call, then rejoin.
	c.Leave()
	waitForState(t, c, StateIdle)

	// Leave returns the controller to Idle; a fresh Start+Join must not
	// stack a second frame.
	c2 := env.controller(RoleMentor, nil)
	defer c2.Close()
	if err := c2.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := c2.Join(context.Background()); err != nil {
		t.Fatalf("rejoin: %v", err)
	}

	if env.frames.Count() != 1 {
		t.Fatalf("expected a single live frame after rejoin, got %d", env.frames.Count())
	}
}

func TestCloseFromEveryStateLeavesNoFrames(t *testing.T) {
	stages := []struct {
		name  string
		drive func(t *testing.T, env *testEnv, c *Controller)
	}{
		{"idle", func(_ *testing.T, _ *testEnv, _ *Controller) {}},
		{"ready", func(t *testing.T, _ *testEnv, c *Controller) {
			if err := c.Start(context.Background()); err != nil {
				t.Fatalf("start: %v", err)
			}
		}},
		{"in-call", func(t *testing.T, _ *testEnv, c *Controller) {
			if err := c.Start(context.Background()); err != nil {
				t.Fatalf("start: %v", err)
			}
			if err := c.Join(context.Background()); err != nil {
				t.Fatalf("join: %v", err)
			}
		}},
	}

	for _, stage := range stages {
		t.Run(stage.name, func(t *testing.T) {
			env := newTestEnv(videoAppointment(14))
			c := env.controller(RoleMentor, nil)
			stage.drive(t, env, c)

			c.Close()
			c.Close() // must be idempotent

			if env.frames.Count() != 0 {
				t.Fatalf("close left %d frames registered", env.frames.Count())
			}
			for _, frame := range env.factory.frames {
				if !frame.isDestroyed() {
					t.Fatal("close left a frame undestroyed")
				}
			}
		})
	}
}

func TestCallbacksAfterCloseAreDiscarded(t *testing.T) {
	env := newTestEnv(videoAppointment(15))
	c := env.controller(RolePatient, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.Close()

	// A late realtime delivery must not mutate a closed session.
	c.applyMeetingLink("https://x.daily.co/late")
	if got := c.Snapshot().RoomURL; got != "" {
		t.Fatalf("closed controller accepted a late link: %q", got)
	}

	if err := c.Start(context.Background()); err != ErrSessionClosed {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if err := c.Join(context.Background()); err != ErrSessionClosed {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestDataFetchFailureRetries(t *testing.T) {
	env := newTestEnv(videoAppointment(16))
	env.accessor.getErr = context.DeadlineExceeded

	c := env.controller(RoleMentor, nil)
	defer c.Close()

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected fetch failure")
	}
	if c.Snapshot().State != StateError {
		t.Fatalf("expected Error, got %q", c.Snapshot().State)
	}

	env.accessor.mu.Lock()
	env.accessor.getErr = nil
	env.accessor.mu.Unlock()

	// Retry re-enters Loading and completes.
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if c.Snapshot().State != StateReady {
		t.Fatalf("expected Ready after retry, got %q", c.Snapshot().State)
	}
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Snapshot().State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %q, at %q", want, c.Snapshot().State)
}
