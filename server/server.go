package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mandirweb/rag/internal/models"
	"github.com/mandirweb/rag/pkg/chunker"
	"github.com/mandirweb/rag/pkg/config"
	"github.com/mandirweb/rag/pkg/llm"
	"github.com/mandirweb/rag/pkg/pdf"
	"github.com/mandirweb/rag/pkg/processor"
	"github.com/mandirweb/rag/pkg/rag"
	"github.com/mandirweb/rag/pkg/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is the wire frame for both directions. Content carries free text
// (the query, a status line); Data carries structured payloads.
type Message struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type reply struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ingestPayload struct {
	Title    string         `json:"title"`
	Source   string         `json:"source"`
	Content  string         `json:"content"`
	PDF      []byte         `json:"pdf,omitempty"`
	HTML     bool           `json:"html,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type batchPayload struct {
	Items []ingestPayload `json:"items"`
}

type searchPayload struct {
	Threshold float32 `json:"threshold,omitempty"`
	Limit     int     `json:"limit,omitempty"`
}

// Server exposes the ingestion and retrieval pipeline over a WebSocket JSON
// protocol plus a plain health endpoint.
type Server struct {
	config      *config.Config
	processor   *processor.Processor
	ragService  *rag.Service
	vectorStore *store.VectorStore
	logger      *slog.Logger
}

// New wires the full pipeline from config: embedder, vector store, document
// processor and query service. A nil logger falls back to slog.Default.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		BatchSize: cfg.Embedding.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	vectorStore, err := store.NewWithConfig(store.VectorStoreConfig{
		ConnString: cfg.Database.URL,
		VectorDim:  cfg.Database.VectorDim,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	splitter := chunker.NewWithConfig(chunker.Config{
		MaxChunkSize:     cfg.Chunker.ChunkSize,
		ChunkOverlap:     cfg.Chunker.ChunkOverlap,
		BoundaryFraction: cfg.Chunker.BoundaryFraction,
	})

	proc := processor.New(vectorStore, embedder, splitter, pdf.NewTextExtractor(), logger)

	return &Server{
		config:      cfg,
		processor:   proc,
		ragService:  rag.New(vectorStore, embedder, logger),
		vectorStore: vectorStore,
		logger:      logger,
	}, nil
}

// Handler returns the HTTP mux with the /ws and /health endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// ListenAndServe blocks serving on the configured address.
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting server", "addr", s.config.Server.Addr)
	return http.ListenAndServe(s.config.Server.Addr, s.Handler())
}

// Close releases the underlying store connections.
func (s *Server) Close() {
	s.vectorStore.Close()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("connection closed", "error", err)
			break
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("bad message", "error", err)
			continue
		}

		go s.handleMessage(r.Context(), conn, msg)
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, msg Message) {
	switch msg.Type {
	case "ingest":
		s.handleIngest(ctx, conn, msg)
	case "ingest_batch":
		s.handleIngestBatch(ctx, conn, msg)
	case "search":
		s.handleSearch(ctx, conn, msg)
	case "delete":
		s.handleDelete(ctx, conn, msg)
	case "stats":
		s.handleStats(ctx, conn)
	default:
		s.sendError(conn, fmt.Sprintf("unknown message type: %q", msg.Type))
	}
}

func (s *Server) handleIngest(ctx context.Context, conn *websocket.Conn, msg Message) {
	var payload ingestPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		s.sendError(conn, fmt.Sprintf("invalid ingest payload: %v", err))
		return
	}

	processed, err := s.ingestOne(ctx, payload)
	if err != nil {
		s.sendError(conn, fmt.Sprintf("ingestion failed: %v", err))
		return
	}

	s.send(conn, reply{
		Type:    "ingested",
		Content: fmt.Sprintf("%q: %d of %d chunks embedded", processed.Title, processed.EmbeddedChunks, len(processed.Chunks)),
		Data:    processed,
	})
}

func (s *Server) handleIngestBatch(ctx context.Context, conn *websocket.Conn, msg Message) {
	var payload batchPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		s.sendError(conn, fmt.Sprintf("invalid batch payload: %v", err))
		return
	}

	items := make([]processor.BatchItem, 0, len(payload.Items))
	for _, item := range payload.Items {
		items = append(items, processor.BatchItem{
			Title:    item.Title,
			Source:   item.Source,
			Content:  item.Content,
			PDF:      item.PDF,
			HTML:     item.HTML,
			Metadata: item.Metadata,
		})
	}

	results, err := s.processor.ProcessBatch(ctx, items, processor.BatchOptions{
		BatchSize: s.config.Batch.BatchSize,
		Delay:     time.Duration(s.config.Batch.DelayMS) * time.Millisecond,
		OnProgress: func(processed, total int) {
			s.send(conn, reply{Type: "progress", Content: fmt.Sprintf("processed %d of %d documents", processed, total)})
		},
		OnError: func(err error, title string) {
			s.send(conn, reply{Type: "item_error", Content: fmt.Sprintf("%q: %v", title, err)})
		},
	})
	if err != nil {
		s.sendError(conn, fmt.Sprintf("batch aborted: %v", err))
		return
	}

	s.send(conn, reply{
		Type:    "batch_done",
		Content: fmt.Sprintf("%d of %d documents ingested", len(results), len(items)),
		Data:    results,
	})
}

func (s *Server) handleSearch(ctx context.Context, conn *websocket.Conn, msg Message) {
	var payload searchPayload
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			s.sendError(conn, fmt.Sprintf("invalid search payload: %v", err))
			return
		}
	}

	opts := rag.SearchOptions{Threshold: payload.Threshold, Limit: payload.Limit}
	if opts.Threshold == 0 {
		opts.Threshold = s.config.RAG.Threshold
	}
	if opts.Limit == 0 {
		opts.Limit = s.config.RAG.Limit
	}

	resp, err := s.ragService.Search(ctx, msg.Content, opts)
	if err != nil {
		s.sendError(conn, fmt.Sprintf("search failed: %v", err))
		return
	}

	s.send(conn, reply{
		Type:    "results",
		Content: rag.BuildContext(resp.Chunks, s.config.RAG.MaxContextTokens),
		Data:    resp,
	})
}

func (s *Server) handleDelete(ctx context.Context, conn *websocket.Conn, msg Message) {
	if msg.Content == "" {
		s.sendError(conn, "delete requires a document id")
		return
	}

	if err := s.processor.DeleteDocument(ctx, msg.Content); err != nil {
		s.sendError(conn, fmt.Sprintf("delete failed: %v", err))
		return
	}

	s.send(conn, reply{Type: "deleted", Content: msg.Content})
}

func (s *Server) handleStats(ctx context.Context, conn *websocket.Conn) {
	stats, err := s.vectorStore.Stats(ctx)
	if err != nil {
		s.sendError(conn, fmt.Sprintf("stats failed: %v", err))
		return
	}

	s.send(conn, reply{Type: "stats", Data: stats})
}

func (s *Server) ingestOne(ctx context.Context, payload ingestPayload) (*models.ProcessedDocument, error) {
	switch {
	case len(payload.PDF) > 0:
		return s.processor.ProcessPDF(ctx, payload.PDF, payload.Title, payload.Source, payload.Metadata)
	case payload.HTML:
		return s.processor.ProcessHTML(ctx, []byte(payload.Content), payload.Title, payload.Source, payload.Metadata)
	default:
		return s.processor.ProcessDocument(ctx, payload.Title, payload.Source, payload.Content, payload.Metadata)
	}
}

func (s *Server) send(conn *websocket.Conn, r reply) {
	if err := conn.WriteJSON(r); err != nil {
		s.logger.Warn("failed to send message", "type", r.Type, "error", err)
	}
}

func (s *Server) sendError(conn *websocket.Conn, content string) {
	s.send(conn, reply{Type: "error", Content: content})
}
