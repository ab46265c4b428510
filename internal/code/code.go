// Package code downloads task code into local workspaces and proposes the
// resulting changes back to the Automa service.
package code

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/automa-app/automa-go/internal/api"
	"github.com/automa-app/automa-go/internal/log"
	"github.com/automa-app/automa-go/internal/workspace"
)

// ErrNoProposalToken is returned by Propose when the workspace holds no
// proposal token. No request is sent in that case.
var ErrNoProposalToken = errors.New("failed to read the stored proposal token")

const (
	downloadPath = "/code/download"
	proposePath  = "/code/propose"
)

// Service implements the code resource.
//
// A workspace moves ABSENT -> READY on a successful Download, stays READY
// across Propose calls and goes back to ABSENT on Cleanup. The service does no
// locking; callers serialize operations on one task id.
type Service struct {
	transport  Transport
	workspaces workspace.Manager
	differ     Differ
	recorder   Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder reports downloads and proposals to r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New wires a Service.
func New(transport Transport, workspaces workspace.Manager, differ Differ, opts ...Option) *Service {
	s := &Service{
		transport:  transport,
		workspaces: workspaces,
		differ:     differ,
		logger:     log.Discard(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the workspace directory of task.
func (s *Service) Path(task Task) string {
	return s.workspaces.Path(task.ID)
}

// Cleanup removes the downloaded code of a task. A missing workspace is an
// error.
func (s *Service) Cleanup(ctx context.Context, params CleanupParams) error {
	if err := s.workspaces.Cleanup(ctx, params.Task.ID); err != nil {
		return err
	}
	s.logger.Info("workspace removed", "task_id", params.Task.ID)
	return nil
}

// Download fetches the task's code, extracts it into the task workspace and
// stores the proposal token. It returns the workspace path.
//
// Request failures return before the disk is touched. Once the response
// arrives, any previous workspace for the task is replaced.
func (s *Service) Download(ctx context.Context, params DownloadParams) (string, error) {
	if params.Task.ID <= 0 {
		return "", fmt.Errorf("%w (got %d)", workspace.ErrInvalidTaskID, params.Task.ID)
	}
	logger := s.logger.With("task_id", params.Task.ID)

	resp, err := s.transport.PostStream(ctx, downloadPath, params,
		api.WithHeader("Accept", "application/gzip"),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	ws, err := s.workspaces.Extract(ctx, params.Task.ID, resp.Body)
	if err != nil {
		return "", err
	}

	token := resp.Header.Get(ProposalTokenHeader)
	if token == "" {
		logger.Warn("download response carried no proposal token; propose will fail")
	}
	if err := s.workspaces.StoreToken(ctx, params.Task.ID, token); err != nil {
		return "", err
	}

	logger.Info("task code downloaded",
		"dir", ws.Dir,
		"archive_bytes", ws.Archive.Bytes,
		"entries", ws.Archive.Entries,
	)

	if s.recorder != nil {
		ev := DownloadEvent{
			TaskID:        params.Task.ID,
			Dir:           ws.Dir,
			ArchiveDigest: ws.Archive.Digest,
			ArchiveBytes:  ws.Archive.Bytes,
			Entries:       ws.Archive.Entries,
			At:            s.now().UTC(),
		}
		if err := s.recorder.RecordDownload(ctx, ev); err != nil {
			logger.Warn("failed to record download", "error", err)
		}
	}

	return ws.Dir, nil
}

// Propose submits the workspace diff together with the stored proposal token
// and returns the service response as is.
func (s *Service) Propose(ctx context.Context, params ProposeParams) (*api.Response, error) {
	logger := s.logger.With("task_id", params.Task.ID)

	token, err := s.workspaces.ReadToken(ctx, params.Task.ID)
	if err != nil {
		if errors.Is(err, workspace.ErrTokenNotFound) {
			return nil, ErrNoProposalToken
		}
		return nil, err
	}

	diff, err := s.differ.Diff(ctx, s.workspaces.Path(params.Task.ID))
	if err != nil {
		return nil, err
	}

	body := proposeBody{
		Task: params.Task,
		Proposal: submittedProposal{
			Token: token,
			Diff:  diff,
		},
	}
	if params.Proposal != nil {
		body.Proposal.Message = params.Proposal.Message
	}

	resp, err := s.transport.Post(ctx, proposePath, body)

	ev := ProposalEvent{
		TaskID:    params.Task.ID,
		Message:   body.Proposal.Message,
		DiffBytes: len(diff),
		At:        s.now().UTC(),
	}
	if err != nil {
		var apiErr *api.APIError
		if errors.As(err, &apiErr) {
			ev.StatusCode = apiErr.StatusCode
		}
		ev.Error = err.Error()
		logger.Warn("proposal rejected", "error", err)
	} else {
		ev.StatusCode = resp.StatusCode
		logger.Info("proposal submitted", "status", resp.StatusCode, "diff_bytes", len(diff))
	}

	if s.recorder != nil {
		if recErr := s.recorder.RecordProposal(ctx, ev); recErr != nil {
			logger.Warn("failed to record proposal", "error", recErr)
		}
	}

	if err != nil {
		return nil, err
	}
	return resp, nil
}
