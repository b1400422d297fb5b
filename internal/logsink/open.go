package logsink

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Open builds a sink from a target string:
//
//	memory:                        in-memory sink
//	file:<path> or <path>          ShiViz log file
//	sqlite:<path>                  SQLite database
//	postgres://... postgresql://   PostgreSQL database
//	redis://host:port/db?stream=s&maxlen=n
//
// session tags SQL rows; it may be empty.
func Open(ctx context.Context, target, session string) (Sink, error) {
	switch {
	case target == "":
		return nil, fmt.Errorf("empty log sink target")
	case target == "memory:":
		return NewMemorySink(), nil
	case strings.HasPrefix(target, "sqlite:"):
		return OpenSQLite(ctx, strings.TrimPrefix(target, "sqlite:"), session)
	case strings.HasPrefix(target, "postgres://"), strings.HasPrefix(target, "postgresql://"):
		return OpenPostgres(ctx, target, session)
	case strings.HasPrefix(target, "redis://"), strings.HasPrefix(target, "rediss://"):
		return openRedis(ctx, target)
	case strings.HasPrefix(target, "file:"):
		return OpenFile(strings.TrimPrefix(target, "file:"))
	default:
		return OpenFile(target)
	}
}

// openRedis strips the sink's own query options before handing the URL to
// redis.ParseURL, which rejects unknown ones.
func openRedis(ctx context.Context, target string) (*RedisSink, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid redis target: %w", err)
	}
	q := u.Query()
	stream := q.Get("stream")
	var maxLen int64
	if v := q.Get("maxlen"); v != "" {
		maxLen, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid redis maxlen %q: %w", v, err)
		}
	}
	q.Del("stream")
	q.Del("maxlen")
	u.RawQuery = q.Encode()

	opts, err := redis.ParseURL(u.String())
	if err != nil {
		return nil, fmt.Errorf("invalid redis target: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", opts.Addr, err)
	}
	return NewRedisSink(client, stream, maxLen), nil
}
