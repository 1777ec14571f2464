package api

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/emotions-app/emotions-server/db"
	"github.com/emotions-app/emotions-server/service/appointment"
	"github.com/emotions-app/emotions-server/service/availability"
	"github.com/emotions-app/emotions-server/service/call"
	"github.com/emotions-app/emotions-server/service/events"
	"github.com/emotions-app/emotions-server/service/group"
	"github.com/emotions-app/emotions-server/service/mood"
	notification "github.com/emotions-app/emotions-server/service/notifications"
	"github.com/emotions-app/emotions-server/service/review"
	"github.com/emotions-app/emotions-server/service/user"
	"github.com/emotions-app/emotions-server/service/ws"
	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type APIServer struct {
	address string
	db      *gorm.DB

	bus         *events.Bus
	chatHandler *ws.ChatHandler
	httpServer  *http.Server
}

func NewApiServer(address string, db *gorm.DB) *APIServer {
	return &APIServer{
		address: address,
		db:      db,
	}
}

func (s *APIServer) Run() error {
	router := mux.NewRouter()
	subrouter := router.PathPrefix("/api/v1").Subrouter()

	s.bus = events.NewBus()

	userHandler := user.NewHandler(s.db)
	userHandler.RegisterRoutes(subrouter)

	availabilityHandler := availability.NewAvailabilityHandler(s.db)
	availabilityHandler.RegisterRoutes(subrouter)

	appointmentHandler := appointment.NewAppointmentHandler(s.db, s.bus)
	appointmentHandler.RegisterRoutes(subrouter)

	moodHandler := mood.NewMoodHandler(s.db)
	moodHandler.RegisterRoutes(subrouter)

	groupHandler := group.NewGroupHandler(s.db)
	groupHandler.RegisterRoutes(subrouter)

	reviewHandler := review.NewReviewHandler(s.db)
	reviewHandler.RegisterRoutes(subrouter)

	notificationHandler := notification.NewNotificationHandler(s.db)
	notificationHandler.RegisterRoutes(subrouter)

	redisClient, err := db.NewRedisClient()
	if err != nil {
		return err
	}

	accessor := call.NewRecordAccessor(s.db, s.bus)
	callHandler := call.NewCallHandler(s.db, accessor, call.NewDailyClient(), call.NewPresence(redisClient), notificationHandler)
	callHandler.RegisterRoutes(subrouter)

	s.chatHandler = ws.NewChatHandler(s.db, s.bus)
	s.chatHandler.RegisterRoutes(router)

	cors := gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins([]string{"*"}),
		gorillahandlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		gorillahandlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	s.httpServer = &http.Server{
		Addr:         s.address,
		Handler:      cors(gorillahandlers.LoggingHandler(os.Stdout, router)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Println("Server running at", s.address)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests, then closes the websocket hub and
// the appointment event bus.
func (s *APIServer) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if s.chatHandler != nil {
		s.chatHandler.Hub().Stop()
	}
	if s.bus != nil {
		s.bus.Close()
	}
	return err
}
