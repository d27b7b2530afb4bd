package ghl

import (
	"github.com/nhle/lead-sync/internal/crm"
	"github.com/nhle/lead-sync/internal/model"
)

// contactSearchResponse is the response from GET /contacts.
type contactSearchResponse struct {
	Contacts []crm.Contact `json:"contacts"`
}

// createContactRequest is the body of POST /contacts.
type createContactRequest struct {
	Email        string              `json:"email"`
	LocationID   string              `json:"locationId"`
	FirstName    string              `json:"firstName,omitempty"`
	LastName     string              `json:"lastName,omitempty"`
	Phone        string              `json:"phone,omitempty"`
	CustomFields []model.CustomField `json:"customFields,omitempty"`
}

// contactResponse wraps a single contact.
type contactResponse struct {
	Contact crm.Contact `json:"contact"`
}

type updateContactRequest struct {
	CustomFields []model.CustomField `json:"customFields"`
}

// Pipeline is a sales pipeline with its ordered stages.
type Pipeline struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Stages []Stage `json:"stages"`
}

// Stage is one column of a pipeline.
type Stage struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type pipelinesResponse struct {
	Pipelines []Pipeline `json:"pipelines"`
}

// Opportunity is a deal record in a pipeline.
type Opportunity struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PipelineID string `json:"pipelineId"`
	ContactID  string `json:"contactId"`
	Status     string `json:"status"`
}

type opportunitySearchResponse struct {
	Opportunities []Opportunity `json:"opportunities"`
}

type createOpportunityRequest struct {
	PipelineID string `json:"pipelineId"`
	StageID    string `json:"pipelineStageId,omitempty"`
	ContactID  string `json:"contactId"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	LocationID string `json:"locationId"`
}

type opportunityResponse struct {
	Opportunity Opportunity `json:"opportunity"`
}

// ErrorResponse is the error body returned by the API.
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Message    any    `json:"message"`
	Error      string `json:"error"`
}
