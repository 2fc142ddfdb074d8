//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hyperjump/ragindex/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
)

// libraryPathEnv overrides where the onnxruntime shared library is loaded from.
const libraryPathEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initRuntime() error {
	ortInitOnce.Do(func() {
		if lib := os.Getenv(libraryPathEnv); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// ONNXEmbedder runs a sentence-embedding model with ONNX Runtime. The session is bound
// to fixed [rows, maxTokens] input tensors, so EmbedBatch runs one inference per rows
// texts and pads the last group with empty rows.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	inputIDs   *ort.Tensor[int64]
	mask       *ort.Tensor[int64]
	typeIDs    *ort.Tensor[int64]
	output     *ort.Tensor[float32]
	rows       int
	dimensions int
	maxTokens  int
	model      string
	tokenizer  Tokenizer
}

// ONNXConfig describes the model file and the tensor shapes it is run with.
type ONNXConfig struct {
	ModelPath  string
	Dimensions int
	MaxTokens  int
	// Rows is how many texts one inference embeds. Zero means 8.
	Rows int
	// OutputName is the pooled output tensor. Empty means "output".
	OutputName string
}

// NewONNXEmbedder loads the model and allocates its tensors.
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	if cfg.Dimensions <= 0 || cfg.MaxTokens <= 0 {
		return nil, fmt.Errorf("onnx embedder: dimensions and max tokens must be positive")
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 8
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "output"
	}
	if err := initRuntime(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	e := &ONNXEmbedder{
		rows:       cfg.Rows,
		dimensions: cfg.Dimensions,
		maxTokens:  cfg.MaxTokens,
		model:      "onnx:" + strings.TrimSuffix(filepath.Base(cfg.ModelPath), filepath.Ext(cfg.ModelPath)),
		tokenizer:  HashTokenizer{},
	}
	inShape := ort.NewShape(int64(cfg.Rows), int64(cfg.MaxTokens))
	var err error
	if e.inputIDs, err = ort.NewEmptyTensor[int64](inShape); err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	if e.mask, err = ort.NewEmptyTensor[int64](inShape); err != nil {
		e.destroy()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	if e.typeIDs, err = ort.NewEmptyTensor[int64](inShape); err != nil {
		e.destroy()
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	if e.output, err = ort.NewEmptyTensor[float32](ort.NewShape(int64(cfg.Rows), int64(cfg.Dimensions))); err != nil {
		e.destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	e.session, err = ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{e.inputIDs, e.mask, e.typeIDs},
		[]ort.ArbitraryTensor{e.output},
		nil,
	)
	if err != nil {
		e.destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return e, nil
}

// Embed embeds one text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in groups of the configured row count. Inference is
// serialized on the shared tensors; ctx is checked between groups.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + e.rows
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.run(texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *ONNXEmbedder) run(texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("onnx embedder closed")
	}
	ids, mask, types := e.inputIDs.GetData(), e.mask.GetData(), e.typeIDs.GetData()
	for row := 0; row < e.rows; row++ {
		text := ""
		if row < len(texts) {
			text = texts[row]
		}
		rowIDs, rowMask, rowTypes := e.tokenizer.Tokenize(text, e.maxTokens)
		off := row * e.maxTokens
		copy(ids[off:off+e.maxTokens], rowIDs)
		copy(mask[off:off+e.maxTokens], rowMask)
		copy(types[off:off+e.maxTokens], rowTypes)
	}
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	data := e.output.GetData()
	vecs := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, e.dimensions)
		copy(v, data[i*e.dimensions:(i+1)*e.dimensions])
		utils.NormalizeL2(v)
		vecs[i] = v
	}
	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelName returns "onnx:<model file stem>".
func (e *ONNXEmbedder) ModelName() string {
	return e.model
}

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroy()
}

func (e *ONNXEmbedder) destroy() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	for _, t := range []*ort.Tensor[int64]{e.inputIDs, e.mask, e.typeIDs} {
		if t != nil {
			err = multierr.Append(err, t.Destroy())
		}
	}
	if e.output != nil {
		err = multierr.Append(err, e.output.Destroy())
	}
	e.inputIDs, e.mask, e.typeIDs, e.output = nil, nil, nil, nil
	return err
}
