package utils

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MaxImageSize = 10 << 20 // 10 MB
	ImagePath    = "uploads/images"
)

// SaveImage stores an uploaded profile picture and returns its URL path.
func SaveImage(file multipart.File, header *multipart.FileHeader) (string, error) {
	if header.Size > MaxImageSize {
		return "", fmt.Errorf("file size exceeds maximum limit of %d MB", MaxImageSize/(1<<20))
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !isValidImageType(ext) {
		return "", fmt.Errorf("invalid file type: %s", ext)
	}

	if err := os.MkdirAll(ImagePath, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %v", err)
	}

	filename := fmt.Sprintf("%s-%s%s",
		time.Now().Format("20060102"),
		uuid.New().String(),
		ext,
	)

	dst, err := os.Create(filepath.Join(ImagePath, filename))
	if err != nil {
		return "", fmt.Errorf("failed to create file: %v", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		return "", fmt.Errorf("failed to save file: %v", err)
	}

	return "/images/" + filename, nil
}

func isValidImageType(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}
