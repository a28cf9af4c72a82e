package postcode

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
	"github.com/iota-uz/ods/pkg/configuration"
)

// unknownMarker caches a miss so unknown postcodes do not hit the backend again.
const unknownMarker = "-"

var cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ods",
	Subsystem: "postcode_cache",
	Name:      "requests_total",
	Help:      "Postcode cache lookups broken down by result.",
}, []string{"result"})

// NewRedisClient builds a client from REDIS_URL and checks connectivity. It
// returns nil when Redis is not configured.
func NewRedisClient(ctx context.Context, opts configuration.RedisOptions) (*redis.Client, error) {
	if !opts.Enabled() {
		return nil, nil
	}
	ro, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// CachedDirectory fronts another Directory with Redis. Redis failures are
// logged and the backend is used directly.
type CachedDirectory struct {
	client  redis.Cmdable
	backend Directory
	prefix  string
	ttl     time.Duration
	log     *logrus.Entry
}

func NewCachedDirectory(client redis.Cmdable, backend Directory, prefix string, ttl time.Duration, log *logrus.Entry) *CachedDirectory {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &CachedDirectory{
		client:  client,
		backend: backend,
		prefix:  prefix,
		ttl:     ttl,
		log:     log.WithField("component", "postcode.cache"),
	}
}

func (d *CachedDirectory) key(k string) string {
	return d.prefix + "postcode:" + k
}

func (d *CachedDirectory) Coordinates(ctx context.Context, postcode string) (*organisation.Coordinates, error) {
	found, err := d.Lookup(ctx, []string{postcode})
	if err != nil {
		return nil, err
	}
	c, ok := found[Normalize(postcode)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (d *CachedDirectory) Lookup(ctx context.Context, postcodes []string) (map[string]organisation.Coordinates, error) {
	keys := normalizeAll(postcodes)
	out := make(map[string]organisation.Coordinates, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	missing := keys
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = d.key(k)
	}

	vals, err := d.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		d.log.WithError(err).Warn("postcode cache read failed")
	} else {
		missing = missing[:0:0]
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				missing = append(missing, keys[i])
				continue
			}
			cacheRequests.WithLabelValues("hit").Inc()
			if c, ok := decodeCoordinates(s); ok {
				out[keys[i]] = c
			}
		}
	}
	if len(missing) == 0 {
		return out, nil
	}
	cacheRequests.WithLabelValues("miss").Add(float64(len(missing)))

	fetched, err := d.backend.Lookup(ctx, missing)
	if err != nil {
		return nil, err
	}

	pipe := d.client.Pipeline()
	for _, k := range missing {
		v := unknownMarker
		if c, ok := fetched[k]; ok {
			out[k] = c
			v = encodeCoordinates(c)
		}
		pipe.Set(ctx, d.key(k), v, d.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		d.log.WithError(err).Warn("postcode cache write failed")
	}
	return out, nil
}

func encodeCoordinates(c organisation.Coordinates) string {
	return strconv.Itoa(c.Northing) + "," + strconv.Itoa(c.Easting)
}

func decodeCoordinates(s string) (organisation.Coordinates, bool) {
	n, e, ok := strings.Cut(s, ",")
	if !ok {
		return organisation.Coordinates{}, false
	}
	northing, err := strconv.Atoi(n)
	if err != nil {
		return organisation.Coordinates{}, false
	}
	easting, err := strconv.Atoi(e)
	if err != nil {
		return organisation.Coordinates{}, false
	}
	return organisation.Coordinates{Northing: northing, Easting: easting}, true
}
