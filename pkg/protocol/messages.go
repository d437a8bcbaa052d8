// Package protocol defines the JSON frames exchanged with the project backend
// over the duplex channel.
//
// Every frame is a JSON object whose "type" field selects the message kind.
// Inbound frames decode to one of the Inbound implementations below; outbound
// requests are Outbound values passed to Encode.
package protocol

import (
	"fmt"

	"github.com/fruitsalade/projectsync/pkg/models"
)

// Kind is the value of a frame's "type" field.
type Kind string

// Inbound kinds (backend → client).
const (
	KindAuthenticated      Kind = "authenticated"
	KindProjectFiles       Kind = "project_files"
	KindFileCreated        Kind = "file_created"
	KindFileContent        Kind = "file_content"
	KindFileContentUpdated Kind = "file_content_updated"
	KindFileStreamStart    Kind = "file_stream_start"
	KindFileStreamChunk    Kind = "file_stream_chunk"
	KindFileStreamComplete Kind = "file_stream_complete"
	KindFileSaved          Kind = "file_saved"
	KindGenerationStatus   Kind = "generation_status"
	KindError              Kind = "error"
	KindTerminalOutput     Kind = "terminal_output"
	KindTerminalError      Kind = "terminal_error"
)

// Outbound kinds (client → backend).
const (
	KindAuthenticate      Kind = "authenticate"
	KindGetProjectFiles   Kind = "get_project_files"
	KindGetFileContent    Kind = "get_file_content"
	KindSaveFile          Kind = "save_file"
	KindSubscribeTerminal Kind = "subscribe_terminal"
	KindTerminalInput     Kind = "terminal_input"
)

// Inbound is a decoded backend frame.
type Inbound interface {
	Kind() Kind
	inbound()
}

// Outbound is a request the client sends to the backend.
type Outbound interface {
	Kind() Kind
	outbound()
}

// ─── Inbound ────────────────────────────────────────────────────────────────

// Authenticated acknowledges a successful authenticate request.
type Authenticated struct{}

// ProjectFiles carries a full tree snapshot.
type ProjectFiles struct {
	Files []*models.FileNode `json:"files"`
}

// FileCreated announces a new file written by the generation job.
type FileCreated struct {
	FilePath string  `json:"filePath"`
	Content  *string `json:"content,omitempty"`
}

// FileContent answers get_file_content. Older backends omit filePath.
type FileContent struct {
	FilePath string  `json:"filePath,omitempty"`
	Content  *string `json:"content"`
}

// FileContentUpdated is a live replacement of a file's content.
type FileContentUpdated struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

// FileStreamStart begins a line-by-line write of a file.
type FileStreamStart struct {
	FilePath   string `json:"filePath"`
	TotalLines int    `json:"totalLines,omitempty"`
}

// FileStreamChunk carries one streamed line.
type FileStreamChunk struct {
	FilePath string  `json:"filePath"`
	Line     *string `json:"line"`
}

// FileStreamComplete ends a stream.
type FileStreamComplete struct {
	FilePath string `json:"filePath"`
}

// FileSaved acknowledges save_file.
type FileSaved struct {
	FilePath string `json:"filePath,omitempty"`
}

// GenerationStatus is a coarse progress report from the generation job.
type GenerationStatus struct {
	Status   string  `json:"status"`
	Message  string  `json:"message,omitempty"`
	Progress float64 `json:"progress,omitempty"`
}

// Text returns the message used to identify the status entry. Backends that
// omit the message get "status" or "status (N%)".
func (g *GenerationStatus) Text() string {
	if g.Message != "" {
		return g.Message
	}
	if g.Progress != 0 {
		return fmt.Sprintf("%s (%g%%)", g.Status, g.Progress)
	}
	return g.Status
}

// Error reports a failed request.
type Error struct {
	Message string `json:"message"`
}

// TerminalOutput carries raw bytes written by the app's terminal.
type TerminalOutput struct {
	Output string `json:"output"`
}

// TerminalError reports a terminal-side failure.
type TerminalError struct {
	Error string `json:"error"`
}

func (*Authenticated) Kind() Kind      { return KindAuthenticated }
func (*ProjectFiles) Kind() Kind       { return KindProjectFiles }
func (*FileCreated) Kind() Kind        { return KindFileCreated }
func (*FileContent) Kind() Kind        { return KindFileContent }
func (*FileContentUpdated) Kind() Kind { return KindFileContentUpdated }
func (*FileStreamStart) Kind() Kind    { return KindFileStreamStart }
func (*FileStreamChunk) Kind() Kind    { return KindFileStreamChunk }
func (*FileStreamComplete) Kind() Kind { return KindFileStreamComplete }
func (*FileSaved) Kind() Kind          { return KindFileSaved }
func (*GenerationStatus) Kind() Kind   { return KindGenerationStatus }
func (*Error) Kind() Kind              { return KindError }
func (*TerminalOutput) Kind() Kind     { return KindTerminalOutput }
func (*TerminalError) Kind() Kind      { return KindTerminalError }

func (*Authenticated) inbound()      {}
func (*ProjectFiles) inbound()       {}
func (*FileCreated) inbound()        {}
func (*FileContent) inbound()        {}
func (*FileContentUpdated) inbound() {}
func (*FileStreamStart) inbound()    {}
func (*FileStreamChunk) inbound()    {}
func (*FileStreamComplete) inbound() {}
func (*FileSaved) inbound()          {}
func (*GenerationStatus) inbound()   {}
func (*Error) inbound()              {}
func (*TerminalOutput) inbound()     {}
func (*TerminalError) inbound()      {}

// ─── Outbound ───────────────────────────────────────────────────────────────

// Authenticate presents the session credential. It must be the first frame
// on every connection.
type Authenticate struct {
	Type  Kind   `json:"type"`
	Token string `json:"token"`
}

// GetProjectFiles subscribes to tree updates and requests a snapshot.
type GetProjectFiles struct {
	Type  Kind   `json:"type"`
	AppID string `json:"appId"`
}

// GetFileContent requests the full content of one file.
type GetFileContent struct {
	Type     Kind   `json:"type"`
	AppID    string `json:"appId"`
	FilePath string `json:"filePath"`
}

// SaveFile writes local edits back to the project.
type SaveFile struct {
	Type     Kind   `json:"type"`
	AppID    string `json:"appId"`
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

// SubscribeTerminal attaches to the app's terminal output.
type SubscribeTerminal struct {
	Type  Kind   `json:"type"`
	AppID string `json:"appId"`
}

// TerminalInput forwards keystrokes to the app's terminal.
type TerminalInput struct {
	Type  Kind   `json:"type"`
	AppID string `json:"appId"`
	Input string `json:"input"`
}

func (Authenticate) Kind() Kind      { return KindAuthenticate }
func (GetProjectFiles) Kind() Kind   { return KindGetProjectFiles }
func (GetFileContent) Kind() Kind    { return KindGetFileContent }
func (SaveFile) Kind() Kind          { return KindSaveFile }
func (SubscribeTerminal) Kind() Kind { return KindSubscribeTerminal }
func (TerminalInput) Kind() Kind     { return KindTerminalInput }

func (Authenticate) outbound()      {}
func (GetProjectFiles) outbound()   {}
func (GetFileContent) outbound()    {}
func (SaveFile) outbound()          {}
func (SubscribeTerminal) outbound() {}
func (TerminalInput) outbound()     {}
