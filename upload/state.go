package upload

// State is a step of the upload protocol. A run only moves forward.
type State int

// States in the order a run passes through them.
const (
	StateStart State = iota
	StateArticleResolved
	StateUploadInitiated
	StatePartsManifestFetched
	StateAllPartsUploaded
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateArticleResolved:
		return "ARTICLE_RESOLVED"
	case StateUploadInitiated:
		return "UPLOAD_INITIATED"
	case StatePartsManifestFetched:
		return "PARTS_MANIFEST_FETCHED"
	case StateAllPartsUploaded:
		return "ALL_PARTS_UPLOADED"
	case StateCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}
