// Package whispercpp runs speech recognition through the ffmpeg and
// whisper.cpp command line tools.
package whispercpp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kiranshivaraju/whisperd/internal/engine"
)

// Config holds binary locations and default options.
type Config struct {
	FFmpegPath  string         `yaml:"ffmpeg_path"`
	WhisperPath string         `yaml:"whisper_path"`
	ModelPath   string         `yaml:"model_path"`
	Threads     int            `yaml:"threads"`
	Defaults    engine.Options `yaml:"defaults"`
}

// PipelineError is a stage-aware error with optional command context.
type PipelineError struct {
	Stage      string
	Message    string
	CommandLog CommandLog
	Err        error
}

func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s (cmd=%s exit=%d)", e.Stage, e.Message, e.CommandLog.Command, e.CommandLog.ExitCode)
}

func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CommandLog captures one external command invocation.
type CommandLog struct {
	Command  string
	Args     []string
	ExitCode int
	Stderr   string
}

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// Engine implements engine.Engine on top of whisper.cpp.
type Engine struct {
	cfg    Config
	runner commandRunner
	now    func() time.Time
}

// New creates an Engine executing real processes.
func New(cfg Config) *Engine {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.WhisperPath == "" {
		cfg.WhisperPath = "whisper-cli"
	}
	return &Engine{cfg: cfg, runner: &execRunner{}, now: time.Now}
}

func (e *Engine) Name() string { return "whisper.cpp" }

// Transcribe converts every input to 16 kHz mono PCM, runs each requested
// task and collects the artifact paths. The payload for a single input is
// returned flat; several inputs are listed under "files".
func (e *Engine) Transcribe(ctx context.Context, req engine.Request) (engine.Result, error) {
	if len(req.Inputs) == 0 {
		return nil, &PipelineError{Stage: "preprocessing", Message: "no input media"}
	}
	if strings.TrimSpace(req.OutDir) == "" {
		return nil, &PipelineError{Stage: "exporting", Message: "output directory is required"}
	}

	opts := req.Options.Merge(e.cfg.Defaults)
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	modelPath, err := e.resolveModelPath(opts.Model)
	if err != nil {
		return nil, &PipelineError{Stage: "transcribing", Message: err.Error(), Err: err}
	}

	start := e.now()
	files := make([]map[string]any, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		out, err := e.transcribeOne(ctx, input, req.OutDir, modelPath, opts)
		if err != nil {
			return nil, err
		}
		files = append(files, out)
	}

	var result engine.Result
	if len(files) == 1 {
		result = engine.Result(files[0])
	} else {
		result = engine.Result{"files": files}
	}
	result["decoding_time"] = roundSeconds(e.now().Sub(start))

	slog.Info("transcription completed", "content_id", req.ContentID, "inputs", len(req.Inputs))
	return result, nil
}

func (e *Engine) transcribeOne(ctx context.Context, input, outDir, modelPath string, opts engine.Options) (map[string]any, error) {
	if _, err := os.Stat(input); err != nil {
		return nil, &PipelineError{
			Stage:   "preprocessing",
			Message: fmt.Sprintf("cannot access input media: %s", input),
			Err:     err,
		}
	}

	tempDir, err := os.MkdirTemp("", "whisperd-*")
	if err != nil {
		return nil, &PipelineError{Stage: "preprocessing", Message: "failed to create temporary workspace", Err: err}
	}
	defer os.RemoveAll(tempDir)

	wavPath := filepath.Join(tempDir, "preprocessed-16k-mono.wav")
	ffArgs := buildFFmpegArgs(input, wavPath)
	if log, err := e.run(ctx, e.cfg.FFmpegPath, ffArgs); err != nil {
		return nil, &PipelineError{Stage: "preprocessing", Message: "ffmpeg audio conversion failed", CommandLog: log, Err: err}
	}

	folder := filepath.Join(outDir, opts.Lang)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, &PipelineError{Stage: "exporting", Message: fmt.Sprintf("cannot create output directory: %s", folder), Err: err}
	}

	out := map[string]any{"audio": input}
	stem := mediaStem(input)
	for _, task := range opts.Tasks() {
		base := filepath.Join(folder, stem)
		if task == engine.TaskTranslate {
			base += ".translated"
		}

		args := buildWhisperArgs(modelPath, wavPath, base, opts.Lang, task, e.cfg.Threads)
		log, err := e.run(ctx, e.cfg.WhisperPath, args)
		if err != nil {
			return nil, &PipelineError{Stage: "transcribing", Message: "whisper.cpp " + task + " failed", CommandLog: log, Err: err}
		}

		script, err := os.ReadFile(base + ".txt")
		if err != nil {
			return nil, &PipelineError{
				Stage:      "exporting",
				Message:    "whisper.cpp completed but transcript .txt file is missing",
				CommandLog: log,
				Err:        err,
			}
		}

		out[task] = map[string]any{
			"lang":      opts.Lang,
			"json_path": base + ".json",
			"srt":       base + ".srt",
			"vtt":       base + ".vtt",
			"script":    strings.TrimSpace(string(script)),
		}
	}
	return out, nil
}

func (e *Engine) run(ctx context.Context, name string, args []string) (CommandLog, error) {
	res, err := e.runner.Run(ctx, name, args...)
	log := CommandLog{Command: name, Args: args, ExitCode: res.ExitCode, Stderr: res.Stderr}
	if err != nil {
		slog.Warn("command failed", "command", name, "exit_code", res.ExitCode, "error", err)
	}
	return log, err
}

// resolveModelPath picks ggml-<name>.bin inside a model directory, the
// first .bin/.gguf in it when no name is given, or the configured file.
func (e *Engine) resolveModelPath(name string) (string, error) {
	modelPath := strings.TrimSpace(e.cfg.ModelPath)
	if modelPath == "" {
		return "", fmt.Errorf("model path is required")
	}

	info, err := os.Stat(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot access model path: %s", modelPath)
	}
	if !info.IsDir() {
		return modelPath, nil
	}

	if name != "" {
		candidate := filepath.Join(modelPath, "ggml-"+name+".bin")
		if _, err := os.Stat(candidate); err != nil {
			return "", fmt.Errorf("model %q not found in: %s", name, modelPath)
		}
		return candidate, nil
	}

	entries, err := os.ReadDir(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot read model directory: %s", modelPath)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no .bin or .gguf model files found in: %s", modelPath)
	}
	sort.Strings(names)
	return filepath.Join(modelPath, names[0]), nil
}

func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

func buildWhisperArgs(modelPath, audioPath, outBase, lang, task string, threads int) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-oj", "-osrt", "-ovtt", "-otxt",
	}
	if lang != "" && !strings.EqualFold(lang, "auto") {
		args = append(args, "-l", lang)
	}
	if task == engine.TaskTranslate {
		args = append(args, "-tr")
	}
	if threads > 0 {
		args = append(args, "-t", fmt.Sprint(threads))
	}
	return args
}

func mediaStem(inputPath string) string {
	base := filepath.Base(inputPath)
	name := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "transcript"
	}
	return name
}

func roundSeconds(d time.Duration) float64 {
	return float64(d.Round(time.Millisecond).Milliseconds()) / 1000
}

var _ engine.Engine = (*Engine)(nil)
