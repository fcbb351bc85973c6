package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/prn-tf/coldsnap/internal/archive"
	"github.com/prn-tf/coldsnap/internal/chunkaddr"
	"github.com/prn-tf/coldsnap/internal/coldsnaperr"
	"github.com/prn-tf/coldsnap/internal/metrics"
	"github.com/prn-tf/coldsnap/internal/transport"
)

// serveMetrics runs the optional local Prometheus endpoint for the
// lifetime of a send command. Failures are logged, not fatal — a
// metrics-scrape outage should never abort a backup run.
func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn().Err(err).Str("addr", addr).Msg("metrics endpoint stopped")
	}
}

const qubesRPCService = "qubes.ColdsnapAgent"

// resolveExecutor builds the transport.Executor backing a destination
// descriptor, per spec.md §6's four URI schemes.
func resolveExecutor(dest string, logger zerolog.Logger) (transport.Executor, error) {
	switch {
	case strings.HasPrefix(dest, "internal:"):
		return transport.NewLocal(logger), nil
	case strings.HasPrefix(dest, "ssh://"):
		addr, user, path := splitSSHDest(dest)
		client, err := transport.DialSSH(transport.SSHConfig{Addr: addr, User: user, Auth: sshAgentAuth()}, logger)
		if err != nil {
			return nil, fmt.Errorf("dialing ssh destination %s: %w", dest, err)
		}
		_ = path // the remote helper resolves paths relative to its own cwd
		return client, nil
	case strings.HasPrefix(dest, "qubes-ssh://"):
		rest := strings.TrimPrefix(dest, "qubes-ssh://")
		parts := strings.SplitN(rest, "|", 2)
		if len(parts) != 2 {
			return nil, coldsnaperr.Wrap(coldsnaperr.ErrConfiguration, "malformed qubes-ssh destination %q, want vm|host/path", dest)
		}
		inner := transport.NewQubes(parts[0], qubesRPCService, logger)
		return transport.NewQubesSSHBridge(inner, "ssh "+parts[1]), nil
	case strings.HasPrefix(dest, "qubes://"):
		rest := strings.TrimPrefix(dest, "qubes://")
		vm := strings.SplitN(rest, "/", 2)[0]
		return transport.NewQubes(vm, qubesRPCService, logger), nil
	default:
		return nil, coldsnaperr.Wrap(coldsnaperr.ErrConfiguration, "malformed --dest %q: unrecognized scheme", dest)
	}
}

// annotatedReceiveManifest replays spec.md §4.7 steps 1-2 while keeping
// each surviving entry's owning session, which sessionio.BuildReceiveManifest
// deliberately strips (that package only needs the plain hash/addr
// pairs once the stream itself is framed). Receive and diff need the
// owning session too, to know which destination path to fetch each
// chunk from.
func annotatedReceiveManifest(v *archive.Volume, targetSession string, lastChunkAddr int64) ([]archive.ManifestEntry, []string, error) {
	chain, err := v.SessionChainUpTo(targetSession)
	if err != nil {
		return nil, nil, err
	}

	var perSession [][]archive.ManifestEntry
	var names []string
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].Format == archive.FormatTar {
			return nil, nil, coldsnaperr.Wrap(coldsnaperr.ErrPrecondition, "session %s is tar-formatted and cannot be received", chain[i].Name)
		}
		perSession = append(perSession, chain[i].Manifest)
		names = append(names, chain[i].Name)
	}

	type owned struct {
		entry   archive.ManifestEntry
		session string
	}
	seen := make(map[int64]owned)
	for i, entries := range perSession {
		for _, e := range entries {
			if _, ok := seen[e.Addr]; ok {
				continue
			}
			seen[e.Addr] = owned{entry: e, session: names[i]}
		}
	}

	var addrs []int64
	for addr := range seen {
		addrs = append(addrs, addr)
	}
	sortInt64s(addrs)

	entries := make([]archive.ManifestEntry, 0, len(addrs))
	sessions := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if addr > lastChunkAddr {
			continue
		}
		o := seen[addr]
		entries = append(entries, o.entry)
		sessions = append(sessions, o.session)
	}
	return entries, sessions, nil
}

func sortInt64s(s []int64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// streamManifestChunks asks the destination to frame every non-zero
// manifest entry as a 4-byte big-endian length prefix followed by the
// chunk's raw (already-compressed) bytes, the wire shape
// sessionio.Receiver expects (spec.md §4.7 step 3).
func streamManifestChunks(ctx context.Context, destExec transport.Executor, volume string, entries []archive.ManifestEntry, sessions []string) (io.ReadCloser, error) {
	var paths []string
	for i, e := range entries {
		if e.Hash == "0" {
			continue
		}
		paths = append(paths, volume+"/"+sessions[i]+"/"+chunkaddr.RelPath(e.Addr))
	}
	if len(paths) == 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}

	script := "for f in " + strings.Join(quoteAll(paths), " ") + `; do
sz=$(wc -c < "$f");
printf '%08x' "$sz" | sed 's/\(..\)/\\x\1/g' | xargs printf;
cat "$f";
done`

	res, err := destExec.Run(ctx, script, nil)
	if err != nil {
		return nil, fmt.Errorf("streaming manifest chunks: %w", err)
	}
	return res.Stdout, nil
}

func quoteAll(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = "'" + p + "'"
	}
	return out
}

// sshAgentAuth defers to a running ssh-agent for key material; coldsnap
// never holds or generates SSH keys itself.
func sshAgentAuth() []ssh.AuthMethod {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil
	}
	return []ssh.AuthMethod{ssh.PublicKeysCallback(agent.NewClient(conn).Signers)}
}

// splitSSHDest parses "ssh://user@host/path" into its components.
func splitSSHDest(dest string) (addr, user, path string) {
	rest := strings.TrimPrefix(dest, "ssh://")
	hostPart := rest
	if idx := strings.Index(rest, "/"); idx >= 0 {
		hostPart = rest[:idx]
		path = rest[idx+1:]
	}
	if idx := strings.Index(hostPart, "@"); idx >= 0 {
		user = hostPart[:idx]
		hostPart = hostPart[idx+1:]
	}
	if !strings.Contains(hostPart, ":") {
		hostPart += ":22"
	}
	return hostPart, user, path
}
