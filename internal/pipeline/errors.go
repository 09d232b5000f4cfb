package pipeline

import (
	"fmt"

	"github.com/teemow/invoicer/internal/drive"
)

// StageError reports a failure after the copy was created. Copy points at
// the document left behind in Drive.
type StageError struct {
	Stage string
	Copy  *drive.DocumentRef
	Err   error
}

func (e *StageError) Error() string {
	if e.Copy == nil {
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s failed after creating copy %q (id %s): %v", e.Stage, e.Copy.Name, e.Copy.ID, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
