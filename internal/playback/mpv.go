package playback

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"
)

// MPVLauncher starts mpv reading raw float32 mono audio from stdin. mpv
// opens a small window; closing it is how the user interrupts speech.
type MPVLauncher struct {
	Binary     string
	SampleRate int
	// Title is the window title, Name the X11 class and Wayland app id.
	Title     string
	Name      string
	CacheSecs int
	ExtraArgs []string
	// Stderr receives mpv's diagnostics; the daemon's stderr when nil.
	Stderr io.Writer
}

// Args returns the mpv command line, without the binary.
func (l MPVLauncher) Args() []string {
	args := []string{
		"--no-terminal",
		"--force-window",
		"--title=" + l.Title,
		"--x11-name=" + l.Name,
		"--wayland-app-id=" + l.Name,
		"--geometry=400x100",
		"--keep-open=no",
		"--speed=1.0",
		"--demuxer=rawaudio",
		"--demuxer-rawaudio-rate=" + strconv.Itoa(l.SampleRate),
		"--demuxer-rawaudio-channels=1",
		"--demuxer-rawaudio-format=float",
		"--cache=yes",
		"--cache-secs=" + strconv.Itoa(l.CacheSecs),
	}
	args = append(args, l.ExtraArgs...)
	return append(args, "-")
}

// Launch implements Launcher. The player outlives ctx; it is stopped
// through the returned Process.
func (l MPVLauncher) Launch(_ context.Context) (Process, error) {
	binary := l.Binary
	if binary == "" {
		binary = "mpv"
	}
	stderr := l.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	return startProcess(binary, l.Args(), playerEnv(os.Environ()), stderr)
}

// playerEnv drops LD_LIBRARY_PATH so mpv does not pick up libraries
// bundled for the synthesis runtime.
func playerEnv(environ []string) []string {
	env := make([]string, 0, len(environ))
	for _, kv := range environ {
		if strings.HasPrefix(kv, "LD_LIBRARY_PATH=") {
			continue
		}
		env = append(env, kv)
	}
	return env
}
