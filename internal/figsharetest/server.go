// Package figsharetest provides an in-memory figshare API and upload service
// for tests.
package figsharetest

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
)

// Token is the credential the server accepts.
const Token = "test-token"

// DefaultPartSize is the part size the upload service uses unless PartSize is set.
const DefaultPartSize = 1 << 20

type article struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

type file struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	Status      string `json:"status"`
	SuppliedMD5 string `json:"supplied_md5"`
	ComputedMD5 string `json:"computed_md5"`
	UploadURL   string `json:"upload_url,omitempty"`

	articleID int64
	token     string
	parts     []part
	received  map[int][]byte
}

type part struct {
	PartNo      int    `json:"partNo"`
	StartOffset int64  `json:"startOffset"`
	EndOffset   int64  `json:"endOffset"`
	Status      string `json:"status"`
	Locked      bool   `json:"locked"`
}

// Server is a fake figshare. Its zero value is not usable, use NewServer.
type Server struct {
	*httptest.Server

	// PartSize is the size of every part but the last one.
	PartSize int64
	// Intercept, if set, is called before routing; returning true means the
	// request was fully handled.
	Intercept func(w http.ResponseWriter, r *http.Request) bool

	mu       sync.Mutex
	nextID   int64
	articles []*article
	files    map[int64]*file
	uploads  map[string]*file
	calls    []string
}

// NewServer starts a fake figshare. Close it when done.
func NewServer() *Server {
	s := &Server{
		PartSize: DefaultPartSize,
		nextID:   1000,
		files:    map[int64]*file{},
		uploads:  map[string]*file{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/account/articles", s.listArticles)
	mux.HandleFunc("POST /v2/account/articles", s.createArticle)
	mux.HandleFunc("GET /v2/account/articles/{id}", s.getArticle)
	mux.HandleFunc("GET /v2/account/articles/{id}/files", s.listFiles)
	mux.HandleFunc("POST /v2/account/articles/{id}/files", s.initiateUpload)
	mux.HandleFunc("GET /v2/account/articles/{id}/files/{fid}", s.getFile)
	mux.HandleFunc("POST /v2/account/articles/{id}/files/{fid}", s.completeUpload)
	mux.HandleFunc("GET /upload/{token}", s.getManifest)
	mux.HandleFunc("PUT /upload/{token}/{partNo}", s.uploadPart)

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, r.Method+" "+r.URL.Path)
		s.mu.Unlock()

		if s.Intercept != nil && s.Intercept(w, r) {
			return
		}
		if r.Header.Get("Authorization") != "token "+Token {
			writeJSON(w, http.StatusForbidden, map[string]string{"message": "Invalid token"})
			return
		}
		mux.ServeHTTP(w, r)
	}))
	return s
}

// BaseURL is the API base URL template of the server.
func (s *Server) BaseURL() string {
	return s.URL + "/v2/{endpoint}"
}

// AddArticle seeds an article with a fixed id.
func (s *Server) AddArticle(id int64, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles = append(s.articles, &article{ID: id, Title: title, URL: s.articleURL(id)})
}

// Calls returns "METHOD /path" for every request received so far.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CallCount counts received requests with the given method and path.
func (s *Server) CallCount(method, path string) int {
	n := 0
	for _, c := range s.Calls() {
		if c == method+" "+path {
			n++
		}
	}
	return n
}

// ArticleIDs returns the ids of the articles with the given title.
func (s *Server) ArticleIDs(title string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, a := range s.articles {
		if a.Title == title {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// FileContent returns the assembled bytes received for a file.
func (s *Server) FileContent(fileID int64) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return nil, false
	}
	return f.assemble(), true
}

// ReceivedParts returns the part numbers received for a file, sorted.
func (s *Server) ReceivedParts(fileID int64) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return nil
	}
	var nos []int
	for no := range f.received {
		nos = append(nos, no)
	}
	sort.Ints(nos)
	return nos
}

func (s *Server) articleURL(id int64) string {
	return fmt.Sprintf("%s/v2/account/articles/%d", s.URL, id)
}

func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]*article, 0, len(s.articles))
	list = append(list, s.articles...)

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if page > 0 && pageSize > 0 {
		start := (page - 1) * pageSize
		if start > len(list) {
			start = len(list)
		}
		end := start + pageSize
		if end > len(list) {
			end = len(list)
		}
		list = list[start:end]
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createArticle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "title is required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	a := &article{ID: s.nextID, Title: req.Title, URL: s.articleURL(s.nextID)}
	s.articles = append(s.articles, a)
	writeJSON(w, http.StatusCreated, map[string]string{"location": a.URL})
}

func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.findArticle(r.PathValue("id"))
	if a == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Article not found"})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.findArticle(r.PathValue("id"))
	if a == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Article not found"})
		return
	}
	list := []*file{}
	for _, f := range s.files {
		if f.articleID == a.ID {
			list = append(list, f)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) initiateUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		MD5  string `json:"md5"`
		Size int64  `json:"size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.MD5 == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "name, md5 and size are required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.findArticle(r.PathValue("id"))
	if a == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Article not found"})
		return
	}

	s.nextID++
	token := fmt.Sprintf("upload-%d", s.nextID)
	f := &file{
		ID:          s.nextID,
		Name:        req.Name,
		Size:        req.Size,
		Status:      "created",
		SuppliedMD5: req.MD5,
		UploadURL:   s.URL + "/upload/" + token,
		articleID:   a.ID,
		token:       token,
		parts:       splitParts(req.Size, s.PartSize),
		received:    map[int][]byte{},
	}
	s.files[f.ID] = f
	s.uploads[token] = f
	writeJSON(w, http.StatusCreated, map[string]string{"location": fmt.Sprintf("%s/files/%d", a.URL, f.ID)})
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.findFile(r.PathValue("id"), r.PathValue("fid"))
	if f == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "File not found"})
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) completeUpload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.findFile(r.PathValue("id"), r.PathValue("fid"))
	if f == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "File not found"})
		return
	}
	if len(f.received) != len(f.parts) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "upload is not complete"})
		return
	}
	sum := md5.Sum(f.assemble())
	f.ComputedMD5 = hex.EncodeToString(sum[:])
	if f.ComputedMD5 != f.SuppliedMD5 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "md5 mismatch"})
		return
	}
	f.Status = "available"
	f.UploadURL = ""
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) getManifest(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.uploads[r.PathValue("token")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Upload not found"})
		return
	}
	parts := make([]part, len(f.parts))
	for i, p := range f.parts {
		p.Status = "PENDING"
		if _, done := f.received[p.PartNo]; done {
			p.Status = "COMPLETE"
		}
		parts[i] = p
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":  f.token,
		"name":   f.Name,
		"size":   f.Size,
		"md5":    f.SuppliedMD5,
		"status": "PENDING",
		"parts":  parts,
	})
}

func (s *Server) uploadPart(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	partNo, err := strconv.Atoi(r.PathValue("partNo"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid part number"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.uploads[r.PathValue("token")]
	if !ok || partNo < 1 || partNo > len(f.parts) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Part not found"})
		return
	}
	p := f.parts[partNo-1]
	if int64(len(data)) != p.EndOffset-p.StartOffset+1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "part size mismatch"})
		return
	}
	f.received[partNo] = data
	w.WriteHeader(http.StatusOK)
}

func (s *Server) findArticle(rawID string) *article {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil
	}
	for _, a := range s.articles {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (s *Server) findFile(rawArticleID, rawFileID string) *file {
	a := s.findArticle(rawArticleID)
	if a == nil {
		return nil
	}
	id, err := strconv.ParseInt(rawFileID, 10, 64)
	if err != nil {
		return nil
	}
	f, ok := s.files[id]
	if !ok || f.articleID != a.ID {
		return nil
	}
	return f
}

func (f *file) assemble() []byte {
	var out []byte
	for _, p := range f.parts {
		out = append(out, f.received[p.PartNo]...)
	}
	return out
}

func splitParts(size, partSize int64) []part {
	parts := []part{}
	for start, no := int64(0), 1; start < size; start, no = start+partSize, no+1 {
		end := start + partSize - 1
		if end > size-1 {
			end = size - 1
		}
		parts = append(parts, part{PartNo: no, StartOffset: start, EndOffset: end})
	}
	return parts
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
