package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/selfdb/gateway/internal/apierror"
)

// Restore unpacks a tar.gz archive uploaded by the caller, terminates
// other connections to the target database, drops and recreates the
// public schema, replays database.sql through psql, and restores the
// blob tree. Callers MUST verify system_config.initialized = false
// before calling Restore — that gate lives at the handler layer, not
// here, per spec.md §4.8 and §8 scenario 7.
func (s *Scheduler) Restore(ctx context.Context, archive io.Reader) error {
	scratch, err := os.MkdirTemp("", "selfdb-restore-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	if err := extractArchive(archive, scratch); err != nil {
		return apierror.BadInputErr("invalid backup archive: " + err.Error())
	}

	dumpPath := filepath.Join(scratch, "database.sql")
	if _, err := os.Stat(dumpPath); err != nil {
		return apierror.BadInputErr("archive missing database.sql")
	}

	if err := s.terminateOtherConnections(ctx); err != nil {
		return fmt.Errorf("terminate connections: %w", err)
	}
	if err := s.recreatePublicSchema(ctx); err != nil {
		return fmt.Errorf("recreate schema: %w", err)
	}
	if err := s.runPsqlRestore(ctx, dumpPath); err != nil {
		return err
	}

	storageSrc := filepath.Join(scratch, "storage")
	if info, err := os.Stat(storageSrc); err == nil && info.IsDir() && s.storageDir != "" {
		if err := copyTree(storageSrc, s.storageDir); err != nil {
			return fmt.Errorf("restore blob tree: %w", err)
		}
	}
	return nil
}

// extractArchive rejects any entry with an absolute path or a ".."
// in its name before writing that entry to disk, per spec.md §4.8 and
// §3's "Persisted state" clause. Entries are checked as they are read,
// so entries that precede a rejected one are already written.
func extractArchive(r io.Reader, destDir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if filepath.IsAbs(hdr.Name) || strings.Contains(hdr.Name, "..") {
			return fmt.Errorf("unsafe archive entry: %s", hdr.Name)
		}
		target := filepath.Join(destDir, hdr.Name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}

func (s *Scheduler) terminateOtherConnections(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, terminateTimeout)
	defer cancel()
	_, err := s.pool.DB.ExecContext(ctx, `
		SELECT pg_terminate_backend(pid) FROM pg_stat_activity
		WHERE datname = $1 AND pid <> pg_backend_pid()`, s.db.Database)
	return err
}

func (s *Scheduler) recreatePublicSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, createDBTimeout)
	defer cancel()
	_, err := s.pool.DB.ExecContext(ctx, `DROP SCHEMA public CASCADE; CREATE SCHEMA public;`)
	return err
}

// runPsqlRestore pipes the dumped SQL through psql as a subprocess,
// mirroring pg_dump's discrete connection flags.
func (s *Scheduler) runPsqlRestore(ctx context.Context, dumpPath string) error {
	ctx, cancel := context.WithTimeout(ctx, restoreTimeout)
	defer cancel()

	in, err := os.Open(dumpPath)
	if err != nil {
		return err
	}
	defer in.Close()

	cmd := exec.CommandContext(ctx, "psql",
		"-h", s.db.Host, "-p", s.db.Port, "-U", s.db.User, "-d", s.db.Database,
		"-v", "ON_ERROR_STOP=1")
	cmd.Env = append(os.Environ(), "PGPASSWORD="+s.db.Password)
	cmd.Stdin = in

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return apierror.InternalErr(fmt.Errorf("psql restore timed out after %s", restoreTimeout))
		}
		return fmt.Errorf("psql restore: %w", err)
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}
