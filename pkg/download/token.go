package download

import (
	"encoding/json"
	"os"

	pkgerrors "github.com/modelpull/modelpull/pkg/errors"
)

// ResumeToken is an opaque blob allowing a failed transfer to continue from a
// prior offset. It is produced by the engine on exhausted-retry failure and
// consumed by a later Transfer call; callers must not interpret its contents.
type ResumeToken []byte

// resumeState is the engine-private shape behind a ResumeToken.
type resumeState struct {
	Offset   int64  `json:"offset"`
	TempPath string `json:"temp_path"`
	ETag     string `json:"etag,omitempty"`
}

func encodeToken(st resumeState) ResumeToken {
	data, err := json.Marshal(st)
	if err != nil {
		return nil
	}
	return data
}

// decodeToken parses a token and checks that the partial file it references is
// still usable. A token that no longer matches reality degrades to a fresh
// start rather than an error where possible.
func decodeToken(tok ResumeToken) (resumeState, error) {
	var st resumeState
	if err := json.Unmarshal(tok, &st); err != nil {
		return resumeState{}, pkgerrors.Wrap(pkgerrors.ErrInvalidResumeToken, err.Error())
	}
	if st.Offset <= 0 || st.TempPath == "" {
		return resumeState{}, pkgerrors.Wrap(pkgerrors.ErrInvalidResumeToken, "missing offset or partial path")
	}
	fi, err := os.Stat(st.TempPath)
	if err != nil || fi.Size() != st.Offset {
		return resumeState{}, pkgerrors.Wrap(pkgerrors.ErrInvalidResumeToken, "partial file missing or size mismatch")
	}
	return st, nil
}
