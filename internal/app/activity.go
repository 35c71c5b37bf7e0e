package app

import "fmt"

// Activity kinds, one per lifecycle event. Every mutating operation writes
// exactly one record of its kind; annotation removal is the single
// documented exception.
const (
	ActivityUpload   = "upload"
	ActivityDownload = "download"
	ActivityView     = "view"
	ActivityUpdate   = "update"
	ActivityDelete   = "delete"
	ActivityComment  = "comment"
	ActivityAnnotate = "annotate"
	ActivityVersion  = "version"
)

// Detail payloads are typed per activity kind and stored as JSONB, so the
// log stays queryable instead of accumulating free text. Each constructor
// also sets a human-readable "note" for display.

func uploadDetails(fileName, category string, sizeBytes int64) map[string]any {
	return map[string]any{
		"fileName":  fileName,
		"category":  category,
		"sizeBytes": sizeBytes,
		"note":      fmt.Sprintf("uploaded %s", fileName),
	}
}

func versionDetails(version int, notes string) map[string]any {
	details := map[string]any{
		"version": version,
		"note":    fmt.Sprintf("uploaded version %d", version),
	}
	if notes != "" {
		details["notes"] = notes
	}
	return details
}

func revertDetails(toVersion int) map[string]any {
	return map[string]any{
		"revertedTo": toVersion,
		"note":       fmt.Sprintf("reverted to version %d", toVersion),
	}
}

func tagDetails(tag string, added bool) map[string]any {
	verb := "added"
	if !added {
		verb = "removed"
	}
	return map[string]any{
		"tag":   tag,
		"added": added,
		"note":  fmt.Sprintf("%s tag %q", verb, tag),
	}
}

func reviewDetails(reviewed bool) map[string]any {
	note := "marked as reviewed"
	if !reviewed {
		note = "review mark cleared"
	}
	return map[string]any{
		"reviewed": reviewed,
		"note":     note,
	}
}

func shareDetails(userID string, granted bool) map[string]any {
	verb := "shared with"
	if !granted {
		verb = "unshared from"
	}
	return map[string]any{
		"userId":  userID,
		"granted": granted,
		"note":    fmt.Sprintf("%s user %s", verb, userID),
	}
}

func commentDetails(commentID string) map[string]any {
	return map[string]any{"commentId": commentID}
}

func annotateDetails(annotationID string, x, y float64) map[string]any {
	return map[string]any{
		"annotationId": annotationID,
		"x":            x,
		"y":            y,
	}
}

func deleteDetails(name string) map[string]any {
	return map[string]any{
		"fileName": name,
		"note":     fmt.Sprintf("deleted %s", name),
	}
}

func downloadDetails(version int) map[string]any {
	return map[string]any{"version": version}
}
