package code

import (
	"strings"

	"github.com/kiranshivaraju/whisperd/internal/status"
)

type statusEntry struct {
	code     Code
	template string
}

// statusTable maps each record status to its response code and detail
// template. {content_id} and {detail} are substituted.
var statusTable = map[status.Status]statusEntry{
	status.Ready:    {ProcessNotYetRunning, "File {content_id} is not yet running"},
	status.Uploaded: {UploadSuccess, "File {content_id} uploaded successfully"},
	status.Pending:  {ProcessPending, "File {content_id} pending processing"},
	status.Running:  {ProcessRunningInBackground, "File {content_id} is being processed"},
	status.Waiting:  {ProcessWaiting, "File {content_id} is waiting for processing"},
	status.Done:     {ProcessDone, "File {content_id} processed successfully"},
	status.Failed:   {ProcessFailed, "{detail}"},
}

// FromStatus returns the state-appropriate response for a record. An
// unknown status yields InvalidTask instead of an error.
func FromStatus(st status.Status, contentID, detail string) Response {
	entry, ok := statusTable[st]
	if !ok {
		entry = statusEntry{InvalidTask, "File {content_id} has invalid status"}
	}

	r := strings.NewReplacer("{content_id}", contentID, "{detail}", detail)
	return entry.code.New(map[string]any{
		"content_id": contentID,
		"detail":     r.Replace(entry.template),
	})
}
