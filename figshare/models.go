package figshare

import (
	"fmt"
	"sort"
)

// Article is a metadata record owned by the account.
type Article struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Location is the body returned by create calls; it points at the new resource.
type Location struct {
	Location string `json:"location"`
}

// ArticleFile is an entry of an article's file list.
type ArticleFile struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	Status      string `json:"status"`
	SuppliedMD5 string `json:"supplied_md5"`
	ComputedMD5 string `json:"computed_md5"`
}

type createArticleRequest struct {
	Title string `json:"title"`
}

// InitiateUploadRequest declares the file about to be uploaded.
type InitiateUploadRequest struct {
	Name string `json:"name"`
	MD5  string `json:"md5"`
	Size int64  `json:"size"`
}

// FileSession is the file record of an upload in progress.
type FileSession struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	MD5       string `json:"supplied_md5"`
	UploadURL string `json:"upload_url"`
	Status    string `json:"status"`
}

// Part is one byte range of the file as issued by the upload service.
// EndOffset is inclusive.
type Part struct {
	PartNo      int    `json:"partNo"`
	StartOffset int64  `json:"startOffset"`
	EndOffset   int64  `json:"endOffset"`
	Status      string `json:"status"`
	Locked      bool   `json:"locked"`
}

// Len is the exact number of bytes to send for the part.
func (p Part) Len() int64 {
	return p.EndOffset - p.StartOffset + 1
}

// Manifest is the upload service's description of an upload session.
type Manifest struct {
	Token  string `json:"token"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	MD5    string `json:"md5"`
	Status string `json:"status"`
	Parts  []Part `json:"parts"`
}

// Validate checks that the parts, ordered by part number, cover [0, size)
// without gaps or overlaps.
func (m Manifest) Validate(size int64) error {
	if m.Size != 0 && m.Size != size {
		return &IntegrityError{Reason: fmt.Sprintf("manifest size %d does not match local size %d", m.Size, size)}
	}

	parts := make([]Part, len(m.Parts))
	copy(parts, m.Parts)
	sort.SliceStable(parts, func(i, j int) bool { return parts[i].PartNo < parts[j].PartNo })

	var next int64
	for i, part := range parts {
		if part.PartNo != i+1 {
			return &IntegrityError{PartNo: part.PartNo, Reason: fmt.Sprintf("expected part number %d", i+1)}
		}
		if part.StartOffset != next {
			return &IntegrityError{PartNo: part.PartNo, Reason: fmt.Sprintf("starts at offset %d, expected %d", part.StartOffset, next)}
		}
		if part.EndOffset < part.StartOffset {
			return &IntegrityError{PartNo: part.PartNo, Reason: fmt.Sprintf("ends at offset %d before its start %d", part.EndOffset, part.StartOffset)}
		}
		next = part.EndOffset + 1
	}
	if next != size {
		return &IntegrityError{Reason: fmt.Sprintf("parts cover %d bytes, file has %d", next, size)}
	}
	return nil
}
