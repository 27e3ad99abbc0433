package services

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Wikid82/ferryman/internal/models"
)

// DefaultPageService stores what the catch-all servers answer.
type DefaultPageService struct {
	db *gorm.DB
}

// NewDefaultPageService creates a new default page service.
func NewDefaultPageService(db *gorm.DB) *DefaultPageService {
	return &DefaultPageService{db: db}
}

// Get returns the configured page for portType, or a 404 page when none is stored.
func (s *DefaultPageService) Get(portType string) (models.DefaultPage, error) {
	var page models.DefaultPage
	if err := s.db.Where("port_type = ?", portType).First(&page).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.DefaultPageFor(portType), nil
		}
		return models.DefaultPage{}, err
	}
	return page, nil
}

// Upsert validates and stores the page for its port type.
func (s *DefaultPageService) Upsert(page *models.DefaultPage) error {
	if err := page.Validate(); err != nil {
		return err
	}
	page.ID = 0
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "port_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"action_type", "html_content", "redirect_url", "updated_at"}),
	}).Create(page).Error
}
