package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/anatolykoptev/go-imagepref"
)

var errQuit = errors.New("quit")

const helpText = `commands:
  import                          bootstrap the corpus from index.json
  list [corpus|choices|suggestions]
  select <corpus|suggestions> <id>
  like | dislike                  label the selected image
  upload <path|url>               store an image of your own as liked
  train                           fit the classifier on all choices
  threshold <0..1|NN%>            set the suggestion confidence threshold
  suggest                         regenerate suggestions
  status
  help
  quit`

// parseLine turns one input line into a command. It returns errQuit for
// quit/exit and (nil, nil) for blank lines.
func parseLine(line string) (imagepref.Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "quit", "exit":
		return nil, errQuit
	case "import":
		return imagepref.ImportCommand{}, nil
	case "list", "ls":
		ds := imagepref.DatasetCorpus
		if len(args) > 0 {
			ds = imagepref.DatasetRole(strings.ToLower(args[0]))
		}
		return imagepref.ListCommand{Dataset: ds}, nil
	case "select":
		if len(args) != 2 {
			return nil, errors.New("usage: select <corpus|suggestions> <id>")
		}
		return imagepref.SelectCommand{Dataset: imagepref.DatasetRole(strings.ToLower(args[0])), ID: args[1]}, nil
	case "like":
		return imagepref.DecideCommand{Label: imagepref.LabelLiked}, nil
	case "dislike":
		return imagepref.DecideCommand{Label: imagepref.LabelDisliked}, nil
	case "upload":
		if len(args) != 1 {
			return nil, errors.New("usage: upload <path|url>")
		}
		return uploadCommand{source: args[0]}, nil
	case "train":
		return imagepref.TrainCommand{}, nil
	case "suggest":
		return imagepref.SuggestCommand{}, nil
	case "threshold":
		if len(args) != 1 {
			return nil, errors.New("usage: threshold <0..1|NN%>")
		}
		v, err := parseThreshold(args[0])
		if err != nil {
			return nil, err
		}
		return imagepref.SetThresholdCommand{Value: v}, nil
	case "status":
		return imagepref.StatusCommand{}, nil
	default:
		return nil, fmt.Errorf("unknown command %q, type help", name)
	}
}

// parseThreshold accepts a fraction ("0.85") or a percentage ("85%").
func parseThreshold(s string) (float64, error) {
	pct := strings.HasSuffix(s, "%")
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid threshold %q", s)
	}
	if pct {
		v /= 100
	}
	if !imagepref.ValidThreshold(v) {
		return 0, fmt.Errorf("threshold %q outside [0,1]", s)
	}
	return v, nil
}

// uploadCommand reads a local file or fetches a URL, then stores it as a
// liked choice.
type uploadCommand struct {
	source string
}

func (uploadCommand) Name() string { return "upload" }

func (c uploadCommand) Execute(ctx context.Context, s *imagepref.Session) (string, error) {
	if strings.HasPrefix(c.source, "http://") || strings.HasPrefix(c.source, "https://") {
		img, err := s.Config.Load(ctx, c.source)
		if err != nil {
			return "Upload failed", err
		}
		return imagepref.UploadCommand{Image: img, ThumbnailURL: c.source}.Execute(ctx, s)
	}

	path, err := filepath.Abs(c.source)
	if err != nil {
		return "Upload failed", err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is typed by the local user
	if err != nil {
		return "Upload failed", err
	}
	img, err := imagepref.DecodeImage(data)
	if err != nil {
		return "Upload failed", err
	}
	return imagepref.UploadCommand{Image: img, ThumbnailURL: "file://" + filepath.ToSlash(path)}.Execute(ctx, s)
}
