package app

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"worison/internal/ai"
	"worison/internal/extract"
	"worison/internal/index"
	"worison/internal/storage"
)

var (
	ErrFileNotAllowed    = errors.New("file type not allowed")
	ErrFileNotFound      = errors.New("file not found")
	ErrSearchUnavailable = errors.New("semantic search not configured")
)

var allowedExtensions = map[string]bool{
	"pdf": true, "txt": true, "docx": true, "csv": true, "xlsx": true,
	"png": true, "jpg": true, "jpeg": true, "gif": true,
	"py": true, "js": true, "html": true, "json": true, "md": true, "webm": true,
}

// AllowedFile reports whether the filename carries an accepted
// extension.
func AllowedFile(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	return ext != "" && allowedExtensions[ext]
}

const (
	indexChunkSize    = 512
	indexChunkOverlap = 64
	embedBatchSize    = 10 // embedding providers commonly cap batch size
)

// DocumentService owns uploads end to end: storing bytes, extracting
// and caching text, explaining documents, and feeding the semantic
// search index.
type DocumentService struct {
	store     *storage.Store
	extractor *extract.Extractor
	gateway   *ai.Gateway

	embClient   *ai.OpenAICompatibleClient
	embCfg      ai.EmbeddingConfig
	searchIndex *index.Memory
}

type UploadResult struct {
	FileID        string `json:"file_id"`
	OriginalName  string `json:"original_name"`
	FileType      string `json:"file_type"`
	TextAvailable bool   `json:"text_available"`
}

func NewDocumentService(
	store *storage.Store,
	extractor *extract.Extractor,
	gateway *ai.Gateway,
	embClient *ai.OpenAICompatibleClient,
	embCfg ai.EmbeddingConfig,
) *DocumentService {
	svc := &DocumentService{
		store:     store,
		extractor: extractor,
		gateway:   gateway,
		embClient: embClient,
		embCfg:    embCfg,
	}
	if embCfg.BaseURL != "" && embCfg.APIKey != "" && embCfg.Model != "" {
		svc.searchIndex = index.NewMemory()
	}
	return svc
}

// Upload validates, stores, and eagerly extracts an uploaded file so
// text_available reflects reality and the cache is warm.
func (s *DocumentService) Upload(ctx context.Context, originalName string, r io.Reader) (*UploadResult, error) {
	if !AllowedFile(originalName) {
		return nil, ErrFileNotAllowed
	}

	uniqueName, err := s.store.SaveUpload(originalName, r)
	if err != nil {
		return nil, err
	}

	text := s.Text(uniqueName)
	if text != "" && s.searchIndex != nil {
		go s.indexDocument(uniqueName, text)
	}

	return &UploadResult{
		FileID:        uniqueName,
		OriginalName:  storage.SanitizeFilename(originalName),
		FileType:      strings.ToLower(strings.TrimPrefix(filepath.Ext(originalName), ".")),
		TextAvailable: text != "",
	}, nil
}

// Text returns the extracted text for a stored name, memoized on
// disk. Extraction failures yield an empty string and are never
// cached, so the next request retries.
func (s *DocumentService) Text(uniqueName string) string {
	if cached, ok := s.store.CachedText(uniqueName); ok {
		return cached
	}

	path, err := s.store.UploadPath(uniqueName)
	if err != nil || !s.store.UploadExists(uniqueName) {
		return ""
	}

	text, err := s.extractor.Extract(path)
	if err != nil {
		log.WithField("component", "documents").WithField("file", uniqueName).
			WithError(err).Warn("extraction failed")
		return ""
	}

	if err := s.store.WriteCachedText(uniqueName, text); err != nil {
		log.WithField("component", "documents").WithError(err).Warn("cache write failed")
	}
	return text
}

// FilePath resolves a stored name for raw serving.
func (s *DocumentService) FilePath(uniqueName string) (string, error) {
	path, err := s.store.UploadPath(uniqueName)
	if err != nil || !s.store.UploadExists(uniqueName) {
		return "", ErrFileNotFound
	}
	return path, nil
}

// Explain runs the chunk/summarize/synthesize pipeline over a stored
// file's extracted text.
func (s *DocumentService) Explain(ctx context.Context, uniqueName string, bullets int) (ai.Explanation, error) {
	if !s.store.UploadExists(uniqueName) {
		return ai.Explanation{}, ErrFileNotFound
	}

	text := s.Text(uniqueName)
	if text == "" {
		return ai.Explanation{
			Final: ai.Result{Kind: ai.KindError, Text: "Could not extract text from file."},
		}, nil
	}
	return s.gateway.ExplainDocument(ctx, text, bullets), nil
}

// Summarize renders a bulleted summary of free-form text. Degraded
// outcomes arrive as marker-prefixed strings, never errors.
func (s *DocumentService) Summarize(ctx context.Context, text string, bullets int) string {
	return s.gateway.Summarize(ctx, text, bullets).Render()
}

// Keywords extracts up to topK keywords from free-form text.
func (s *DocumentService) Keywords(ctx context.Context, text string, topK int) []string {
	return s.gateway.Keywords(ctx, text, topK)
}

// Search embeds the query and returns the nearest indexed uploads.
func (s *DocumentService) Search(ctx context.Context, query string, topK int) ([]index.Match, error) {
	if s.searchIndex == nil {
		return nil, ErrSearchUnavailable
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidInput
	}
	if topK <= 0 {
		topK = 5
	}

	vec, err := s.embClient.Embed(ctx, s.embCfg, query)
	if err != nil {
		return nil, err
	}
	return s.searchIndex.Query(vec, topK), nil
}

// ReindexCached rebuilds the search index from uploads whose extracted
// text is already cached on disk. The index itself is not durable, so
// this runs once at startup.
func (s *DocumentService) ReindexCached() {
	if s.searchIndex == nil {
		return
	}
	mappings, err := s.store.Mappings()
	if err != nil {
		log.WithField("component", "documents").WithError(err).Warn("file map read failed, index stays cold")
		return
	}
	indexed := 0
	for _, m := range mappings {
		text, ok := s.store.CachedText(m.UniqueName)
		if !ok || text == "" {
			continue
		}
		s.indexDocument(m.UniqueName, text)
		indexed++
	}
	log.WithField("component", "documents").WithField("files", indexed).Info("search index warmed")
}

// IndexedChunks reports the search index size, or false when semantic
// search is not configured.
func (s *DocumentService) IndexedChunks() (int, bool) {
	if s.searchIndex == nil {
		return 0, false
	}
	return s.searchIndex.Len(), true
}

func (s *DocumentService) indexDocument(uniqueName, text string) {
	ctx := context.Background()
	chunks := index.SplitChunks(text, indexChunkSize, indexChunkOverlap)

	var vectors [][]float32
	for i := 0; i < len(chunks); i += embedBatchSize {
		end := i + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch, err := s.embClient.EmbedBatch(ctx, s.embCfg, chunks[i:end])
		if err != nil {
			log.WithField("component", "documents").WithField("file", uniqueName).
				WithError(err).Warn("embedding failed, document not indexed")
			return
		}
		vectors = append(vectors, batch...)
	}

	s.searchIndex.Add(uniqueName, chunks, vectors)
	log.WithField("component", "documents").WithField("file", uniqueName).
		WithField("chunks", len(chunks)).Info("document indexed")
}
