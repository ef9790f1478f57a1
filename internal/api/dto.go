package api

import (
	"github.com/starford/councilhub/internal/content"
	"github.com/starford/councilhub/internal/listing"
	"github.com/starford/councilhub/internal/treeview"
)

// LoginRequest is the request body for POST /login.
type LoginRequest struct {
	Username string `json:"username" example:"admin" validate:"required"`
	Password string `json:"password" example:"secret" validate:"required"`
}

// LoginResponse reports the login outcome.
type LoginResponse struct {
	Success bool   `json:"success" validate:"required"`
	Message string `json:"message,omitempty" example:"Invalid credentials"`
}

// Aliases so swagger annotations can refer to domain types.
type (
	MeetingListing    = listing.MeetingListing
	RegulationListing = listing.RegulationListing
	MeetingTree       = treeview.Meeting
	RegulationTree    = treeview.Regulation
	MeetingResult     = content.MeetingResult
	RegulationResult  = content.RegulationResult
)
