package telephony

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path"
	"strings"
)

// Playback file ordering.
const (
	SortPriority   = "priority"
	SortRandom     = "random"
	SortRandomFile = "random_file"
)

// Playback modes.
const (
	PlayOnce = "once"
	PlayLoop = "loop"
)

const playbackDelimiter = "!"

// Playback controls what the probe plays once the far end answers.
// An empty Files list means the channel just sleeps until it is killed.
type Playback struct {
	Files     []string
	Dir       string
	Sort      string
	Mode      string
	LoopCount int
	SleepMS   int
}

// Originate describes one outbound probe channel.
type Originate struct {
	CallID      string
	Source      string
	Destination string
	Codecs      []string

	// Profile and Address select a sofia gateway endpoint. When Address is empty the
	// destination is dialed as a local user.
	Profile string
	Address string

	Playback Playback

	// Shuffle reorders files for random sorting. Nil uses math/rand.
	Shuffle func(n int, swap func(i, j int))
}

// OriginateCommand renders the originate command for o.
func OriginateCommand(o Originate) string {
	vars := []string{
		"origination_uuid=" + o.CallID,
		"origination_caller_id_number=" + o.Source,
		"codec_string=" + strings.Join(o.Codecs, `\,`),
		"hangup_after_bridge=true",
		"ignore_early_media=true",
		"playback_delimiter=" + playbackDelimiter,
		fmt.Sprintf("playback_sleep_val=%d", o.Playback.SleepMS),
	}

	endpoint := "user/" + o.Destination
	if o.Address != "" {
		endpoint = fmt.Sprintf("sofia/%s/%s@%s", o.Profile, o.Destination, o.Address)
	}

	return fmt.Sprintf("originate {%s}%s %s", strings.Join(vars, ","), endpoint, application(o))
}

func application(o Originate) string {
	p := o.Playback
	if len(p.Files) == 0 {
		return "&sleep(0)"
	}

	files := make([]string, 0, len(p.Files))
	for _, f := range p.Files {
		if path.IsAbs(f) {
			files = append(files, f)
		} else {
			files = append(files, path.Join(p.Dir, f))
		}
	}

	shuffle := o.Shuffle
	if shuffle == nil {
		shuffle = rand.Shuffle
	}
	switch p.Sort {
	case SortRandom:
		shuffle(len(files), func(i, j int) { files[i], files[j] = files[j], files[i] })
	case SortRandomFile:
		shuffle(len(files), func(i, j int) { files[i], files[j] = files[j], files[i] })
		files = files[:1]
	}

	list := strings.Join(files, playbackDelimiter)
	if p.Mode == PlayLoop {
		if p.LoopCount > 0 {
			return fmt.Sprintf("'&loop_playback(+%d %s)'", p.LoopCount, list)
		}
		return fmt.Sprintf("&endless_playback(%s)", list)
	}
	return fmt.Sprintf("&playback(%s)", list)
}

func KillCommand(callID string) string { return "uuid_kill " + callID }

func DumpCommand(callID string) string { return "uuid_dump " + callID }

const sofiaStatusCommand = "sofia status"

// ErrProfileNotFound is returned when no sofia profile listens on the requested address.
var ErrProfileNotFound = errors.New("telephony: sofia profile not found")

// ResolveProfile asks the switch which sofia profile is bound to address (host or host:port).
func ResolveProfile(ctx context.Context, ctl CallControl, address string) (string, error) {
	out, err := ctl.Execute(ctx, sofiaStatusCommand)
	if err != nil {
		return "", fmt.Errorf("telephony: sofia status: %w", err)
	}
	host, _, _ := strings.Cut(address, ":")
	if host == "" {
		return "", ErrProfileNotFound
	}

	profile := ""
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, host) {
			continue
		}
		if fields := strings.Fields(line); len(fields) > 0 {
			profile = fields[0]
		}
	}
	if profile == "" {
		return "", ErrProfileNotFound
	}
	return profile, nil
}
