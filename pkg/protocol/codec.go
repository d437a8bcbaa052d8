package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownKind is returned for frames whose type is not part of the protocol.
	ErrUnknownKind = errors.New("unknown message kind")

	errMissingType = errors.New("missing type field")
)

// DecodeError describes an inbound frame that could not be decoded. Callers
// drop the frame; it never affects connection state.
type DecodeError struct {
	Kind Kind
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Kind == "" {
		return "decode frame: " + e.Err.Error()
	}
	return fmt.Sprintf("decode %s frame: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode parses one inbound frame.
func Decode(data []byte) (Inbound, error) {
	var env struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if env.Type == "" {
		return nil, &DecodeError{Err: errMissingType}
	}

	var msg Inbound
	switch env.Type {
	case KindAuthenticated:
		return &Authenticated{}, nil
	case KindProjectFiles:
		msg = &ProjectFiles{}
	case KindFileCreated:
		msg = &FileCreated{}
	case KindFileContent:
		msg = &FileContent{}
	case KindFileContentUpdated:
		msg = &FileContentUpdated{}
	case KindFileStreamStart:
		msg = &FileStreamStart{}
	case KindFileStreamChunk:
		msg = &FileStreamChunk{}
	case KindFileStreamComplete:
		msg = &FileStreamComplete{}
	case KindFileSaved:
		msg = &FileSaved{}
	case KindGenerationStatus:
		msg = &GenerationStatus{}
	case KindError:
		msg = &Error{}
	case KindTerminalOutput:
		msg = &TerminalOutput{}
	case KindTerminalError:
		msg = &TerminalError{}
	default:
		return nil, &DecodeError{Kind: env.Type, Err: ErrUnknownKind}
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, &DecodeError{Kind: env.Type, Err: err}
	}
	if err := validate(msg); err != nil {
		return nil, &DecodeError{Kind: env.Type, Err: err}
	}
	return msg, nil
}

func validate(msg Inbound) error {
	switch m := msg.(type) {
	case *FileCreated:
		return requirePath(m.FilePath)
	case *FileContentUpdated:
		return requirePath(m.FilePath)
	case *FileStreamStart:
		if m.TotalLines < 0 {
			return fmt.Errorf("negative totalLines %d", m.TotalLines)
		}
		return requirePath(m.FilePath)
	case *FileStreamChunk:
		if m.Line == nil {
			return errors.New("missing line")
		}
		return requirePath(m.FilePath)
	case *FileStreamComplete:
		return requirePath(m.FilePath)
	case *GenerationStatus:
		if m.Status == "" && m.Message == "" {
			return errors.New("missing status")
		}
	}
	return nil
}

func requirePath(p string) error {
	if p == "" {
		return errors.New("missing filePath")
	}
	return nil
}

// Encode serializes an outbound request, stamping its type field.
func Encode(m Outbound) ([]byte, error) {
	switch v := m.(type) {
	case Authenticate:
		v.Type = KindAuthenticate
		return json.Marshal(v)
	case GetProjectFiles:
		v.Type = KindGetProjectFiles
		return json.Marshal(v)
	case GetFileContent:
		v.Type = KindGetFileContent
		return json.Marshal(v)
	case SaveFile:
		v.Type = KindSaveFile
		return json.Marshal(v)
	case SubscribeTerminal:
		v.Type = KindSubscribeTerminal
		return json.Marshal(v)
	case TerminalInput:
		v.Type = KindTerminalInput
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("encode %T: %w", m, ErrUnknownKind)
	}
}
