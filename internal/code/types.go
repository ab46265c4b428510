package code

import "time"

// ProposalTokenHeader is the download response header carrying the one-time
// token that authorizes a later proposal.
const ProposalTokenHeader = "X-Automa-Proposal-Token"

// Task identifies a unit of work on the service. Token is the task access
// credential, not the proposal token.
type Task struct {
	ID    int64  `json:"id"`
	Token string `json:"token,omitempty"`
}

// CleanupParams selects the workspace to remove.
type CleanupParams struct {
	Task Task `json:"task"`
}

// DownloadParams is the body of POST /code/download.
type DownloadParams struct {
	Task Task `json:"task"`
}

// Proposal holds the caller-supplied part of a proposal.
type Proposal struct {
	// Message is an optional commit message.
	Message string `json:"message,omitempty"`
}

// ProposeParams selects the task and optional proposal details.
type ProposeParams struct {
	Task     Task      `json:"task"`
	Proposal *Proposal `json:"proposal,omitempty"`
}

// proposeBody is the body of POST /code/propose.
type proposeBody struct {
	Task     Task              `json:"task"`
	Proposal submittedProposal `json:"proposal"`
}

type submittedProposal struct {
	Message string `json:"message,omitempty"`
	Token   string `json:"token"`
	Diff    string `json:"diff"`
}

// DownloadEvent describes a completed download.
type DownloadEvent struct {
	TaskID        int64
	Dir           string
	ArchiveDigest string
	ArchiveBytes  int64
	Entries       int
	At            time.Time
}

// ProposalEvent describes a submitted proposal, successful or not.
type ProposalEvent struct {
	TaskID     int64
	Message    string
	DiffBytes  int
	StatusCode int
	Error      string
	At         time.Time
}
