package handler

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"cobblepod/internal/herr"
)

const (
	optimizedSizeThreshold = 4 * 1024 * 1024 // spec §4.5 step 4
	chunkSeconds           = 300
)

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true,
}

// isVideo reports whether ext (as returned by filepath.Ext) names one of
// the video containers the transcription handler must demux (spec §4.5
// step 3).
func isVideo(ext string) bool {
	return videoExtensions[ext]
}

// extractAudio shells out to ffmpeg (exec.CommandContext + CombinedOutput)
// to pull the audio track out of a video container as MP3.
func extractAudio(ctx context.Context, inputPath, workDir string) (string, error) {
	outputPath := filepath.Join(workDir, "extracted.mp3")
	cmd := exec.CommandContext(ctx, "ffmpeg", "-i", inputPath, "-vn", "-acodec", "libmp3lame", "-y", outputPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", herr.Wrap(herr.KindTransientDownstream, fmt.Sprintf("ffmpeg extract audio: %s", string(out)), err)
	}
	return outputPath, nil
}

// normalizeAudio downmixes/resamples to 16kHz mono PCM WAV, the format the
// Speech Adapter expects (spec §4.5 step 3).
func normalizeAudio(ctx context.Context, inputPath, workDir string) (string, error) {
	outputPath := filepath.Join(workDir, "normalized.wav")
	cmd := exec.CommandContext(ctx, "ffmpeg", "-i", inputPath, "-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le", "-y", outputPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", herr.Wrap(herr.KindTransientDownstream, fmt.Sprintf("ffmpeg normalize audio: %s", string(out)), err)
	}
	return outputPath, nil
}

// probeDuration reads the stream duration in seconds via ffprobe, used to
// compute the expected chunk count (spec §8's chunk-coverage property).
func probeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	out, err := cmd.Output()
	if err != nil {
		return 0, herr.Wrap(herr.KindTransientDownstream, "ffprobe duration", err)
	}
	var seconds float64
	if _, err := fmt.Sscanf(string(out), "%f", &seconds); err != nil {
		return 0, herr.Wrap(herr.KindPoisonInput, "parse ffprobe duration", err)
	}
	return seconds, nil
}

// chunkAudio splits path into chunkSeconds-long WAV chunks using ffmpeg's
// segment muxer with stream copy (no re-encode), per spec §4.5 step 4.
// Chunks are returned in playback order.
func chunkAudio(ctx context.Context, path, workDir string, seconds int) ([]string, error) {
	pattern := filepath.Join(workDir, "chunk_%04d.wav")
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", path,
		"-f", "segment",
		"-segment_time", fmt.Sprintf("%d", seconds),
		"-c", "copy",
		"-reset_timestamps", "1",
		"-y", pattern)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, herr.Wrap(herr.KindTransientDownstream, fmt.Sprintf("ffmpeg chunk audio: %s", string(out)), err)
	}

	entries, err := os.ReadDir(workDir)
	if err != nil {
		return nil, herr.Wrap(herr.KindTransientDownstream, "read chunk dir", err)
	}
	var chunks []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".wav" && e.Name() != "normalized.wav" && e.Name() != "extracted.mp3" {
			chunks = append(chunks, filepath.Join(workDir, e.Name()))
		}
	}
	sort.Strings(chunks)
	if len(chunks) == 0 {
		return nil, herr.New(herr.KindPoisonInput, "ffmpeg produced no chunks")
	}
	return chunks, nil
}

// expectedChunkCount implements spec §8's chunk-coverage property:
// ceil(duration/chunkSeconds).
func expectedChunkCount(durationSeconds float64, chunkSeconds int) int {
	return int(math.Ceil(durationSeconds / float64(chunkSeconds)))
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, herr.Wrap(herr.KindTransientDownstream, "stat file", err)
	}
	return info.Size(), nil
}
