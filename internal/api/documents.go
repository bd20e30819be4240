package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/lspvisor/internal/api/models"
	"github.com/smazurov/lspvisor/internal/workspace"
)

func (s *Server) registerDocumentRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/api/documents",
		Summary:     "List Documents",
		Description: "List open documents in the order they were opened",
		Tags:        []string{"documents"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(context.Context, *struct{}) (*models.DocumentListResponse, error) {
		if s.options.Workspace == nil {
			return nil, huma.Error503ServiceUnavailable("Workspace not available")
		}
		docs := s.options.Workspace.Documents()
		list := make([]models.DocumentData, 0, len(docs))
		for _, d := range docs {
			list = append(list, documentToAPI(d))
		}
		return &models.DocumentListResponse{
			Body: models.DocumentListData{Documents: list, Count: len(list)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "open-document",
		Method:      http.MethodPost,
		Path:        "/api/documents",
		Summary:     "Open Document",
		Description: "Report a document opened by the host. A document in the configured language starts the language server.",
		Tags:        []string{"documents"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 422, 503},
	}, func(_ context.Context, input *models.OpenDocumentRequest) (*models.OpenDocumentResponse, error) {
		if s.options.Workspace == nil {
			return nil, huma.Error503ServiceUnavailable("Workspace not available")
		}
		opened, err := s.options.Workspace.OpenDocument(input.Body.URI, input.Body.LanguageID)
		if errors.Is(err, workspace.ErrEmptyURI) {
			return nil, huma.Error400BadRequest("Document URI is required", err)
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to open document", err)
		}
		return &models.OpenDocumentResponse{Body: models.OpenDocumentData{Opened: opened}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "close-document",
		Method:      http.MethodDelete,
		Path:        "/api/documents",
		Summary:     "Close Document",
		Description: "Report a document closed by the host",
		Tags:        []string{"documents"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 503},
	}, func(_ context.Context, input *models.CloseDocumentRequest) (*struct{}, error) {
		if s.options.Workspace == nil {
			return nil, huma.Error503ServiceUnavailable("Workspace not available")
		}
		if !s.options.Workspace.CloseDocument(input.URI) {
			return nil, huma.Error404NotFound("Document not open")
		}
		return nil, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-workspace",
		Method:      http.MethodGet,
		Path:        "/api/workspace",
		Summary:     "Workspace Roots",
		Description: "List the workspace roots used to resolve ${workspaceFolder}",
		Tags:        []string{"documents"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(context.Context, *struct{}) (*models.WorkspaceResponse, error) {
		if s.options.Workspace == nil {
			return nil, huma.Error503ServiceUnavailable("Workspace not available")
		}
		roots := s.options.Workspace.Roots()
		if roots == nil {
			roots = []string{}
		}
		return &models.WorkspaceResponse{Body: models.WorkspaceData{Roots: roots}}, nil
	})
}

func documentToAPI(d workspace.Document) models.DocumentData {
	return models.DocumentData{
		URI:        d.URI,
		LanguageID: d.LanguageID,
		OpenedAt:   d.OpenedAt,
	}
}
