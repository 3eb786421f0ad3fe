package jobs

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"video-pipeline/internal/audio"
	"video-pipeline/internal/captions"
	"video-pipeline/internal/enhance"
	"video-pipeline/internal/media"
	"video-pipeline/internal/models"
	"video-pipeline/internal/music"
	"video-pipeline/internal/render"
	"video-pipeline/internal/storage"
	"video-pipeline/internal/telemetry"
	"video-pipeline/internal/voice"
)

// Progress reached when each stage completes.
var stageWeights = map[string]int{
	models.StageEnhance:  15,
	models.StageMedia:    35,
	models.StageVoice:    55,
	models.StageCaptions: 65,
	models.StageMusic:    75,
	models.StageRender:   100,
}

// Enhancer rewrites a script and splits it into scenes.
type Enhancer interface {
	Enhance(ctx context.Context, script string) (enhance.Result, error)
}

// MediaFetcher finds one still or clip per scene query.
type MediaFetcher interface {
	Fetch(ctx context.Context, queries []string, mood models.Mood, dir string) ([]media.Asset, error)
}

// Narrator produces the voice track.
type Narrator interface {
	Narrate(ctx context.Context, script, voice, dir string) (voice.Track, error)
	FromUpload(ctx context.Context, src, dir string) (voice.Track, error)
}

// MusicSelector produces the background bed.
type MusicSelector interface {
	Select(ctx context.Context, mood models.Mood, d time.Duration, dir string) (music.Track, error)
}

// PipelineOptions wires the stage adapters.
type PipelineOptions struct {
	Enhancer      Enhancer
	Media         MediaFetcher
	Voice         Narrator
	Music         MusicSelector
	Renderer      render.Renderer
	Publisher     storage.Publisher // optional artifact mirror
	Layout        *storage.Layout
	StageTimeout  time.Duration
	RenderTimeout time.Duration
	MaxVideo      time.Duration
	Logger        zerolog.Logger
}

// Pipeline runs enhance, media, voice, captions, music and render in order.
type Pipeline struct {
	opts PipelineOptions
}

func NewPipeline(opts PipelineOptions) *Pipeline {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 90 * time.Second
	}
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = 8 * time.Minute
	}
	if opts.MaxVideo <= 0 {
		opts.MaxVideo = 300 * time.Second
	}
	return &Pipeline{opts: opts}
}

// stageError remembers which stage failed.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// execution carries intermediate results between stages.
type execution struct {
	job        models.Job
	dir        string
	enhanced   enhance.Result
	assets     []media.Asset
	voice      voice.Track
	narration  string
	captions   *captions.Track
	srt        string
	soundtrack string
	output     render.Output
}

func (p *Pipeline) Run(ctx context.Context, job models.Job, progress ProgressFunc) models.Outcome {
	log := p.opts.Logger.With().Str("job_id", job.ID).Logger()
	dir, err := p.opts.Layout.JobDir(job.ID)
	if err != nil {
		log.Error().Err(err).Msg("create job dir")
		return models.Failed("internal error")
	}
	ex := &execution{job: job, dir: dir}

	steps := []struct {
		stage   string
		timeout time.Duration
		fn      func(context.Context, *execution) error
	}{
		{models.StageEnhance, p.opts.StageTimeout, p.enhance},
		{models.StageMedia, p.opts.StageTimeout, p.fetchMedia},
		{models.StageVoice, p.opts.StageTimeout, p.narrate},
		{models.StageCaptions, p.opts.StageTimeout, p.caption},
		{models.StageMusic, p.opts.StageTimeout, p.mixMusic},
		{models.StageRender, p.opts.RenderTimeout, p.render},
	}
	for _, s := range steps {
		if err := p.stage(ctx, s.stage, s.timeout, ex, progress, s.fn); err != nil {
			reason := models.PublicReason(s.stage, err)
			log.Warn().Err(err).Str("stage", s.stage).Str("reason", reason).Msg("stage failed")
			return models.Failed(reason)
		}
	}

	url := p.publish(ctx, ex, log)
	return models.Succeeded(ex.output.Path, ex.srt, url)
}

func (p *Pipeline) stage(ctx context.Context, name string, timeout time.Duration, ex *execution, progress ProgressFunc, fn func(context.Context, *execution) error) error {
	progress(name, 0)
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(sctx, ex)
	result := "ok"
	if err != nil {
		result = "error"
	}
	telemetry.StageDuration.WithLabelValues(name, result).Observe(time.Since(start).Seconds())
	if err != nil {
		return &stageError{stage: name, err: err}
	}
	progress(name, stageWeights[name])
	return nil
}

func (p *Pipeline) enhance(ctx context.Context, ex *execution) error {
	res, err := p.opts.Enhancer.Enhance(ctx, ex.job.Request.Script)
	if err != nil {
		return err
	}
	ex.enhanced = res
	return nil
}

func (p *Pipeline) fetchMedia(ctx context.Context, ex *execution) error {
	assets, err := p.opts.Media.Fetch(ctx, sceneQueries(ex.enhanced), ex.job.Request.Mood, filepath.Join(ex.dir, "media"))
	if err != nil {
		return err
	}
	if len(assets) == 0 {
		return fmt.Errorf("no media assets produced")
	}
	ex.assets = assets
	return nil
}

func (p *Pipeline) narrate(ctx context.Context, ex *execution) error {
	req := ex.job.Request
	var (
		track voice.Track
		err   error
	)
	if req.VoiceUpload != "" {
		ex.narration = req.Script
		track, err = p.opts.Voice.FromUpload(ctx, req.VoiceUpload, ex.dir)
	} else {
		ex.narration = ex.enhanced.Script
		track, err = p.opts.Voice.Narrate(ctx, ex.narration, req.Voice, ex.dir)
	}
	if err != nil {
		return err
	}
	if track.Duration <= 0 {
		return fmt.Errorf("narration has no duration")
	}
	if track.Duration > p.opts.MaxVideo {
		field := "voice_recording"
		if track.Engine != "upload" {
			field = "script"
		}
		return models.Invalid(field, "narration is %s, limit is %s", track.Duration.Round(time.Second), p.opts.MaxVideo)
	}
	ex.voice = track
	return nil
}

func (p *Pipeline) caption(_ context.Context, ex *execution) error {
	if !ex.job.Request.AddCaptions {
		return nil
	}
	style, err := captions.LookupStyle(ex.job.Request.CaptionStyle)
	if err != nil {
		return err
	}
	track := captions.Generate(ex.narration, ex.voice.Duration, style)
	srt, _, err := track.WriteFiles(ex.dir, "captions")
	if err != nil {
		return err
	}
	ex.captions = &track
	ex.srt = srt
	return nil
}

func (p *Pipeline) mixMusic(ctx context.Context, ex *execution) error {
	ex.soundtrack = ex.voice.Path
	if !ex.job.Request.AddMusic {
		return nil
	}
	bed, err := p.opts.Music.Select(ctx, ex.job.Request.Mood, ex.voice.Duration, ex.dir)
	if err != nil {
		return err
	}
	narration, err := audio.Read(ex.voice.Path)
	if err != nil {
		return fmt.Errorf("read narration: %w", err)
	}
	background, err := audio.Read(bed.Path)
	if err != nil {
		return fmt.Errorf("read music: %w", err)
	}
	mixed := filepath.Join(ex.dir, "soundtrack.wav")
	if err := audio.Write(mixed, audio.Mix(narration, background)); err != nil {
		return err
	}
	ex.soundtrack = mixed
	return nil
}

func (p *Pipeline) render(ctx context.Context, ex *execution) error {
	out, err := p.opts.Renderer.Render(ctx, render.Input{
		JobID:     ex.job.ID,
		Scenes:    timeline(ex.assets, ex.enhanced.Scenes, ex.voice.Duration),
		Audio:     ex.soundtrack,
		Duration:  ex.voice.Duration,
		Captions:  ex.captions,
		Subtitles: ex.srt,
		OutDir:    ex.dir,
	})
	if err != nil {
		return err
	}
	ex.output = out
	return nil
}

// publish mirrors the artifact when a publisher is configured. Mirror
// failures are logged and do not fail the job.
func (p *Pipeline) publish(ctx context.Context, ex *execution, log zerolog.Logger) string {
	if p.opts.Publisher == nil {
		return ""
	}
	pctx, cancel := context.WithTimeout(ctx, p.opts.StageTimeout)
	defer cancel()
	url, err := p.opts.Publisher.Publish(pctx, ex.job.ID, ex.output.Path, storage.ContentType(ex.output.Path))
	if err != nil {
		telemetry.ArtifactsPublished.WithLabelValues("error").Inc()
		log.Warn().Err(err).Msg("artifact mirror upload failed")
		return ""
	}
	telemetry.ArtifactsPublished.WithLabelValues("ok").Inc()
	return url
}

// sceneQueries picks a search query per scene: its keywords, else the global
// keywords, else its first words.
func sceneQueries(res enhance.Result) []string {
	queries := make([]string, 0, len(res.Scenes))
	for _, s := range res.Scenes {
		switch {
		case len(s.Keywords) > 0:
			queries = append(queries, strings.Join(s.Keywords, " "))
		case len(res.Keywords) > 0:
			queries = append(queries, res.Keywords[len(queries)%len(res.Keywords)])
		default:
			words := strings.Fields(s.Text)
			queries = append(queries, strings.Join(words[:min(3, len(words))], " "))
		}
	}
	if len(queries) == 0 {
		queries = append(queries, strings.Join(res.Keywords, " "))
	}
	return queries
}

// timeline spreads total across assets in proportion to their scene text.
func timeline(assets []media.Asset, scenes []enhance.Scene, total time.Duration) []render.Scene {
	weights := make([]int64, len(assets))
	var sum int64
	for i := range assets {
		w := int64(1)
		if i < len(scenes) {
			w += int64(utf8.RuneCountInString(scenes[i].Text))
		}
		weights[i] = w
		sum += w
	}
	out := make([]render.Scene, len(assets))
	var cum int64
	start := time.Duration(0)
	for i, a := range assets {
		cum += weights[i]
		end := time.Duration(int64(total) * cum / sum)
		if i == len(assets)-1 {
			end = total
		}
		out[i] = render.Scene{Image: a.Path, Video: a.Video, Start: start, End: end}
		start = end
	}
	return out
}
