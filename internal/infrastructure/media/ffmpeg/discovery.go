package ffmpeg

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"rillcast/internal/core/domain"
	"rillcast/internal/core/ports"
)

// discoverVideo lists V4L2 capture nodes from sysfs. Only nodes with index 0
// are reported; higher indexes are metadata nodes of the same camera.
func discoverVideo(sysfsRoot, devRoot string) ([]ports.MediaDeviceInfo, error) {
	dir := filepath.Join(sysfsRoot, "class", "video4linux")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	type node struct {
		num  int
		info ports.MediaDeviceInfo
	}
	var nodes []node
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "video") {
			continue
		}
		num, err := strconv.Atoi(strings.TrimPrefix(name, "video"))
		if err != nil {
			continue
		}
		if idx, err := readTrimmed(filepath.Join(dir, name, "index")); err == nil && idx != "0" {
			continue
		}
		label, _ := readTrimmed(filepath.Join(dir, name, "name"))
		nodes = append(nodes, node{
			num: num,
			info: ports.MediaDeviceInfo{
				DeviceID: filepath.Join(devRoot, name),
				Kind:     string(domain.KindVideoInput),
				Label:    label,
			},
		})
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].num < nodes[j].num })
	out := make([]ports.MediaDeviceInfo, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.info)
	}
	return out, nil
}

// discoverAudio parses /proc/asound/pcm. Each line looks like
//
//	00-00: ALC892 Analog : ALC892 Analog : playback 1 : capture 1
//
// and yields an audioinput for "capture" and an audiooutput for "playback".
func discoverAudio(procfsRoot string) ([]ports.MediaDeviceInfo, error) {
	path := filepath.Join(procfsRoot, "asound", "pcm")
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var inputs, outputs []ports.MediaDeviceInfo
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		id, label, capture, playback, ok := parsePCMLine(scanner.Text())
		if !ok {
			continue
		}
		if capture {
			inputs = append(inputs, ports.MediaDeviceInfo{DeviceID: id, Kind: string(domain.KindAudioInput), Label: label})
		}
		if playback {
			outputs = append(outputs, ports.MediaDeviceInfo{DeviceID: id, Kind: string(domain.KindAudioOutput), Label: label})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return append(inputs, outputs...), nil
}

func parsePCMLine(line string) (id, label string, capture, playback, ok bool) {
	fields := strings.Split(line, ":")
	if len(fields) < 3 {
		return "", "", false, false, false
	}
	card, dev, found := strings.Cut(strings.TrimSpace(fields[0]), "-")
	if !found {
		return "", "", false, false, false
	}
	c, err1 := strconv.Atoi(card)
	d, err2 := strconv.Atoi(dev)
	if err1 != nil || err2 != nil {
		return "", "", false, false, false
	}

	label = strings.TrimSpace(fields[2])
	if label == "" {
		label = strings.TrimSpace(fields[1])
	}
	for _, f := range fields[3:] {
		f = strings.TrimSpace(f)
		switch {
		case strings.HasPrefix(f, "capture"):
			capture = true
		case strings.HasPrefix(f, "playback"):
			playback = true
		}
	}
	return fmt.Sprintf("hw:%d,%d", c, d), label, capture, playback, true
}

// alsaNode maps "hw:C,D" to the capture device node under devRoot.
func alsaNode(devRoot, id string) (string, bool) {
	rest, ok := strings.CutPrefix(id, "hw:")
	if !ok {
		return "", false
	}
	card, dev, ok := strings.Cut(rest, ",")
	if !ok {
		return "", false
	}
	if _, err := strconv.Atoi(card); err != nil {
		return "", false
	}
	if _, err := strconv.Atoi(dev); err != nil {
		return "", false
	}
	return filepath.Join(devRoot, "snd", fmt.Sprintf("pcmC%sD%sc", card, dev)), true
}

func readTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
