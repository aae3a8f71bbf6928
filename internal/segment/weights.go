package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// EnsureWeights makes sure the model file at path exists, downloading it from
// url on first use. The download goes to a temp file in the same directory
// which is renamed into place, so a partial file is never picked up. A nil
// client uses http.DefaultClient.
func EnsureWeights(ctx context.Context, path, url string, client *http.Client) error {
	if path == "" {
		return errors.New("model path is not configured")
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if url == "" {
		return fmt.Errorf("model %s is missing and no download url is configured", path)
	}
	if client == nil {
		client = http.DefaultClient
	}

	log.Info().Str("path", path).Str("url", url).Msg("downloading model weights")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download weights: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download weights: status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".part-*")
	if err != nil {
		return err
	}
	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write weights: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	log.Info().Str("path", path).Int64("bytes", n).Msg("model weights ready")
	return nil
}
