package code

import (
	"context"

	"github.com/automa-app/automa-go/internal/api"
)

//go:generate mockgen -destination=mocks/mock_code.go -package=mocks github.com/automa-app/automa-go/internal/code Differ,Recorder

// Transport is the subset of the API client the service needs.
type Transport interface {
	Post(ctx context.Context, path string, body any, opts ...api.RequestOption) (*api.Response, error)
	PostStream(ctx context.Context, path string, body any, opts ...api.RequestOption) (*api.StreamResponse, error)
}

// Differ produces the textual diff of uncommitted changes in a workspace.
type Differ interface {
	Diff(ctx context.Context, dir string) (string, error)
}

// Recorder is told about downloads and proposals. Failures are logged and
// otherwise ignored.
type Recorder interface {
	RecordDownload(ctx context.Context, ev DownloadEvent) error
	RecordProposal(ctx context.Context, ev ProposalEvent) error
}
