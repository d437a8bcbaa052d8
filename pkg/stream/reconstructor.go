// Package stream rebuilds file contents from streamed line chunks and tracks
// the file currently open for editing.
package stream

import (
	"sort"
	"strings"
	"sync"
)

// Status of a stream buffer.
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
)

// Buffer is the reconstructed content of one streamed file.
type Buffer struct {
	Path          string
	Lines         []string
	Status        Status
	ExpectedLines int // 0 when the backend gave no hint
}

// Content joins the buffered lines.
func (b Buffer) Content() string {
	return strings.Join(b.Lines, "\n")
}

// OpenFile is the file currently presented for editing.
type OpenFile struct {
	Path          string
	RemoteContent string
	LocalContent  string
	Loading       bool
	Saving        bool
	Err           string
}

// Dirty reports whether the local content diverges from the backend's.
func (f OpenFile) Dirty() bool {
	return f.LocalContent != f.RemoteContent
}

// Reconstructor owns the stream buffers and the open file.
type Reconstructor struct {
	mu         sync.RWMutex
	buffers    map[string]*Buffer
	open       OpenFile
	savedValue string
}

// NewReconstructor creates an empty reconstructor.
func NewReconstructor() *Reconstructor {
	return &Reconstructor{buffers: make(map[string]*Buffer)}
}

// OnStreamStart resets the buffer for path. If path is open, its presented
// content is cleared until chunks arrive.
func (r *Reconstructor) OnStreamStart(path string, totalLines int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startLocked(path, totalLines)
}

func (r *Reconstructor) startLocked(path string, totalLines int) *Buffer {
	buf := &Buffer{Path: path, Status: StatusStreaming, ExpectedLines: totalLines}
	r.buffers[path] = buf
	if r.open.Path == path {
		r.open.RemoteContent = ""
		r.open.LocalContent = ""
		r.open.Loading = true
		r.open.Err = ""
		r.dropSaveLocked()
	}
	return buf
}

// dropSaveLocked forgets an in-flight save whose content has been replaced
// by the backend; its acknowledgment no longer describes the open file.
func (r *Reconstructor) dropSaveLocked() {
	r.open.Saving = false
	r.savedValue = ""
}

// OnStreamChunk appends a line. A chunk without a prior start opens the
// stream implicitly; a chunk for a completed stream is dropped and reported
// as false. Streamed content overrides unsaved local edits on the open file.
func (r *Reconstructor) OnStreamChunk(path, line string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.buffers[path]
	if !ok {
		buf = r.startLocked(path, 0)
	} else if buf.Status == StatusCompleted {
		return false
	}
	buf.Lines = append(buf.Lines, line)

	if r.open.Path == path {
		content := buf.Content()
		r.open.RemoteContent = content
		r.open.LocalContent = content
		r.open.Loading = false
		r.dropSaveLocked()
	}
	return true
}

// OnStreamComplete marks the stream finished. It reports whether anything
// changed; completing twice is a no-op.
func (r *Reconstructor) OnStreamComplete(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.buffers[path]
	if !ok {
		buf = &Buffer{Path: path}
		r.buffers[path] = buf
	}
	if buf.Status == StatusCompleted {
		return false
	}
	buf.Status = StatusCompleted
	if r.open.Path == path {
		r.open.Loading = false
	}
	return true
}

// OnFullContent replaces the open file's content. Responses for any other
// path are stale and reported as false.
func (r *Reconstructor) OnFullContent(path, content string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open.Path == "" || r.open.Path != path {
		return false
	}
	r.open.RemoteContent = content
	r.open.LocalContent = content
	r.open.Loading = false
	r.open.Err = ""
	r.dropSaveLocked()
	return true
}

// Open switches the open file. Switching clears content and marks it loading
// until a response arrives. An empty path closes the file.
func (r *Reconstructor) Open(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open.Path == path {
		return false
	}
	r.open = OpenFile{Path: path, Loading: path != ""}
	return true
}

// Edit records a local edit of the open file.
func (r *Reconstructor) Edit(content string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open.Path == "" {
		return false
	}
	r.open.LocalContent = content
	return true
}

// BeginSave marks the open file as saving and returns the content to send.
func (r *Reconstructor) BeginSave() (OpenFile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open.Path == "" {
		return OpenFile{}, false
	}
	r.open.Saving = true
	r.savedValue = r.open.LocalContent
	return r.open, true
}

// OnSaved records a save acknowledgment: the saved content becomes the remote
// content and dirty is recomputed against any edits made since.
func (r *Reconstructor) OnSaved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open.Saving {
		return false
	}
	r.open.Saving = false
	r.open.RemoteContent = r.savedValue
	return true
}

// OnError records a failed request against the open file.
func (r *Reconstructor) OnError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open.Loading = false
	r.open.Saving = false
	r.open.Err = msg
}

// Dismiss drops the buffer for path.
func (r *Reconstructor) Dismiss(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.buffers[path]; !ok {
		return false
	}
	delete(r.buffers, path)
	return true
}

// File returns a copy of the open file.
func (r *Reconstructor) File() OpenFile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.open
}

// Buffer returns a copy of the buffer for path.
func (r *Reconstructor) Buffer(path string) (Buffer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	buf, ok := r.buffers[path]
	if !ok {
		return Buffer{}, false
	}
	return copyBuffer(buf), true
}

// Buffers returns copies of all buffers sorted by path.
func (r *Reconstructor) Buffers() []Buffer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Buffer, 0, len(r.buffers))
	for _, buf := range r.buffers {
		out = append(out, copyBuffer(buf))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func copyBuffer(b *Buffer) Buffer {
	out := *b
	out.Lines = append([]string(nil), b.Lines...)
	return out
}
