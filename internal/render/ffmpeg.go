package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"video-pipeline/internal/models"
	"video-pipeline/internal/proc"
)

// FFmpeg renders H.264/AAC MP4 with captions burned in by the subtitles filter.
type FFmpeg struct {
	Path   string
	Runner proc.Runner
	Width  int
	Height int
	FPS    int
}

func (f *FFmpeg) Name() string { return "ffmpeg" }

func (f *FFmpeg) Render(ctx context.Context, in Input) (Output, error) {
	if len(in.Scenes) == 0 {
		return Output{}, &models.RenderError{Reason: "no scenes to render"}
	}
	out := filepath.Join(in.OutDir, "video_"+in.JobID+".mp4")
	if _, err := f.Runner.Run(ctx, f.Path, f.args(in, out)...); err != nil {
		if ctx.Err() != nil {
			return Output{}, &models.RenderError{Reason: "timed out", Err: ctx.Err()}
		}
		return Output{}, &models.RenderError{Reason: "ffmpeg failed", Err: err}
	}
	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		return Output{}, &models.RenderError{Reason: "ffmpeg produced no output", Err: err}
	}
	return Output{Path: out, Format: "mp4", Renderer: f.Name()}, nil
}

// args feeds every scene as its own input: stills looped as frames, clips
// looped as streams, each cut to the scene length. The filtergraph scales,
// fades and concatenates them, then burns in captions.
func (f *FFmpeg) args(in Input, out string) []string {
	args := []string{"-hide_banner", "-nostdin", "-y"}
	var graph strings.Builder
	for i, s := range in.Scenes {
		d := s.End - s.Start
		if s.Video {
			args = append(args, "-stream_loop", "-1", "-t", seconds(d), "-i", s.Image)
		} else {
			args = append(args, "-loop", "1", "-framerate", strconv.Itoa(f.FPS), "-t", seconds(d), "-i", s.Image)
		}
		fmt.Fprintf(&graph, "[%d:v]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1,fps=%d,format=yuv420p%s[v%d];",
			i, f.Width, f.Height, f.Width, f.Height, f.FPS, fadeFilter(d), i)
	}
	for i := range in.Scenes {
		fmt.Fprintf(&graph, "[v%d]", i)
	}
	fmt.Fprintf(&graph, "concat=n=%d:v=1:a=0", len(in.Scenes))
	if in.Captions != nil && in.Subtitles != "" {
		fmt.Fprintf(&graph, ",subtitles='%s':force_style='%s'", escapeFilterValue(in.Subtitles), in.Captions.Style.ForceStyle())
	}
	graph.WriteString("[vout]")

	return append(args,
		"-i", in.Audio,
		"-filter_complex", graph.String(),
		"-map", "[vout]", "-map", strconv.Itoa(len(in.Scenes))+":a",
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "23",
		"-c:a", "aac", "-b:a", "192k",
		"-t", seconds(in.Duration),
		"-movflags", "+faststart",
		out,
	)
}

// fadeFilter fades a scene of length d in from and out to black.
func fadeFilter(d time.Duration) string {
	fade := fadeLength(d)
	if fade <= 0 {
		return ""
	}
	return fmt.Sprintf(",fade=t=in:st=0:d=%s,fade=t=out:st=%s:d=%s", seconds(fade), seconds(d-fade), seconds(fade))
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// escapeFilterValue escapes a path for use inside a quoted filtergraph option.
func escapeFilterValue(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`)
	return r.Replace(s)
}
