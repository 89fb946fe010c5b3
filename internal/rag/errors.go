package rag

import (
	"errors"

	"github.com/josinaldojr/smart-mrag/internal/loader"
)

var (
	ErrMissingModel     = errors.New("model is required")
	ErrUnknownModel     = errors.New("unrecognized model")
	ErrMissingAPIKey    = errors.New("API key is required")
	ErrInvalidEndpoint  = errors.New("invalid endpoint URL")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrUnknownProvider  = errors.New("unknown provider")

	ErrUnsupportedFile = loader.ErrUnsupported
	ErrEmptyDocument   = errors.New("document has no extractable text")
	ErrNoDocuments     = errors.New("no documents loaded")

	ErrEmptyQuestion   = errors.New("question is required")
	ErrQuestionTooLong = errors.New("question is too long")
)
