package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"frostguard/internal/auth"
	masterdata "frostguard/internal/masterdata/domain"
	masterdatarepo "frostguard/internal/masterdata/infrastructure/postgres"
	telemetry "frostguard/internal/telemetry/domain"
	telemetrypostgres "frostguard/internal/telemetry/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type config struct {
	dsn          string
	baseURL      string
	jwtSecret    string
	orgID        string
	sitePrefix   string
	siteCount    int
	unitsPerSite int
	unitType     string
	hours        int
	interval     time.Duration
	replay       bool
	replayTemp   float64
}

func main() {
	cfg := parseConfig()
	if cfg.dsn == "" {
		log.Fatal("PG_DSN or DATABASE_URL is required")
	}
	if cfg.siteCount <= 0 || cfg.unitsPerSite <= 0 {
		log.Fatal("site-count and units-per-site must be > 0")
	}
	if cfg.interval <= 0 {
		log.Fatal("interval must be > 0")
	}

	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	units := buildUnits(cfg)

	log.Printf("seeding units: sites=%d units_per_site=%d type=%s", cfg.siteCount, cfg.unitsPerSite, cfg.unitType)
	if err := seedUnits(ctx, db, units); err != nil {
		log.Fatalf("seed units: %v", err)
	}

	end := time.Now().UTC().Truncate(time.Minute)
	start := end.Add(-time.Duration(cfg.hours) * time.Hour)
	log.Printf("seeding sensor_readings: from=%s to=%s interval=%s", start.Format(time.RFC3339), end.Format(time.RFC3339), cfg.interval)
	if err := seedReadings(ctx, telemetrypostgres.NewHistory(db), units, start, end, cfg.interval); err != nil {
		log.Fatalf("seed readings: %v", err)
	}

	if cfg.replay {
		if cfg.baseURL == "" {
			log.Fatal("base-url is required when replay is enabled")
		}
		log.Printf("replaying readings through %s temperature=%.1f", cfg.baseURL, cfg.replayTemp)
		fired, err := replayReadings(ctx, cfg, units, end.Add(time.Minute))
		if err != nil {
			log.Fatalf("replay readings: %v", err)
		}
		log.Printf("replay fired %d alarms", fired)
	}

	log.Printf("seed completed")
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN")
	flag.StringVar(&cfg.baseURL, "base-url", envOrDefault("BASE_URL", ""), "API base URL for replay")
	flag.StringVar(&cfg.jwtSecret, "jwt-secret", envOrDefault("AUTH_JWT_SECRET", ""), "JWT secret used to sign replay requests")
	flag.StringVar(&cfg.orgID, "org-id", envOrDefault("ORG_ID", "org-demo"), "organization id")
	flag.StringVar(&cfg.sitePrefix, "site-prefix", envOrDefault("SITE_PREFIX", "site-seed-"), "site id prefix")
	flag.IntVar(&cfg.siteCount, "site-count", envOrInt("SITE_COUNT", 2), "number of sites to seed")
	flag.IntVar(&cfg.unitsPerSite, "units-per-site", envOrInt("UNITS_PER_SITE", 4), "units per site")
	flag.StringVar(&cfg.unitType, "unit-type", envOrDefault("UNIT_TYPE", "walk_in_cooler"), "unit type")
	flag.IntVar(&cfg.hours, "hours", envOrInt("HOURS", 24), "hours of reading history")
	flag.DurationVar(&cfg.interval, "interval", envOrDuration("INTERVAL", 5*time.Minute), "reading interval")
	flag.BoolVar(&cfg.replay, "replay", envOrBool("REPLAY", false), "post one reading per unit to the evaluate API")
	flag.Float64Var(&cfg.replayTemp, "replay-temperature", envOrFloat("REPLAY_TEMPERATURE", 45), "temperature used for replayed readings")
	flag.Parse()
	return cfg
}

func buildUnits(cfg config) []masterdata.Unit {
	units := make([]masterdata.Unit, 0, cfg.siteCount*cfg.unitsPerSite)
	for s := 1; s <= cfg.siteCount; s++ {
		siteID := fmt.Sprintf("%s%03d", cfg.sitePrefix, s)
		for u := 1; u <= cfg.unitsPerSite; u++ {
			units = append(units, masterdata.Unit{
				ID:          fmt.Sprintf("%s-unit-%03d", siteID, u),
				OrgID:       cfg.orgID,
				SiteID:      siteID,
				Name:        fmt.Sprintf("Seed unit %d/%d", s, u),
				UnitType:    cfg.unitType,
				SensorTypes: []string{"temperature", "door", "humidity"},
			})
		}
	}
	return units
}

func seedUnits(ctx context.Context, db *sql.DB, units []masterdata.Unit) error {
	const sensorSQL = `
INSERT INTO unit_sensors (id, unit_id, device_id, sensor_type, active)
VALUES ($1, $2, $3, $4, TRUE)
ON CONFLICT (id) DO UPDATE SET active = TRUE`

	for idx := range units {
		unit := units[idx]
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := masterdatarepo.NewUnitRepository(tx).Save(ctx, &unit); err != nil {
			_ = tx.Rollback()
			return err
		}
		for _, sensorType := range unit.SensorTypes {
			sensorID := unit.ID + "-" + sensorType
			if _, err := tx.ExecContext(ctx, sensorSQL, sensorID, unit.ID, "dev-"+sensorID, sensorType); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func seedReadings(ctx context.Context, history *telemetrypostgres.History, units []masterdata.Unit, start, end time.Time, interval time.Duration) error {
	for idx, unit := range units {
		count := 0
		for ts := start; !ts.After(end); ts = ts.Add(interval) {
			if err := history.Record(ctx, syntheticReading(unit, idx, ts)); err != nil {
				return err
			}
			count++
		}
		log.Printf("seeded unit %s readings=%d (%d/%d)", unit.ID, count, idx+1, len(units))
	}
	return nil
}

// syntheticReading produces a stable in-range cooler profile with a slow
// sinusoidal drift so T2/T3 history checks have something to look at.
func syntheticReading(unit masterdata.Unit, idx int, ts time.Time) telemetry.Reading {
	phase := float64(ts.Unix()%86400) / 86400 * 2 * math.Pi
	temp := 36 + float64(idx%3)*0.5 + math.Sin(phase)
	humidity := 60 + 5*math.Cos(phase)
	closed := false
	return telemetry.Reading{
		ReadingID:   fmt.Sprintf("seed-%s-%d", unit.ID, ts.Unix()),
		UnitID:      unit.ID,
		OrgID:       unit.OrgID,
		SiteID:      unit.SiteID,
		DeviceID:    "dev-" + unit.ID + "-temperature",
		Temperature: &temp,
		Humidity:    &humidity,
		DoorOpen:    &closed,
		RecordedAt:  ts,
	}
}

func replayReadings(ctx context.Context, cfg config, units []masterdata.Unit, at time.Time) (int, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	baseURL := strings.TrimRight(cfg.baseURL, "/")
	var token string
	if cfg.jwtSecret != "" {
		signed, err := auth.SignJWT([]byte(cfg.jwtSecret), cfg.orgID, auth.RoleAdmin, "seed-tool", time.Hour)
		if err != nil {
			return 0, err
		}
		token = signed
	}

	fired := 0
	for _, unit := range units {
		temp := cfg.replayTemp
		reading := telemetry.Reading{
			ReadingID:   fmt.Sprintf("replay-%s-%d", unit.ID, at.Unix()),
			UnitID:      unit.ID,
			OrgID:       unit.OrgID,
			SiteID:      unit.SiteID,
			Temperature: &temp,
			RecordedAt:  at,
		}
		payload, _ := json.Marshal(reading)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/readings/evaluate", bytes.NewReader(payload))
		if err != nil {
			return fired, err
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fired, err
		}
		var summary struct {
			Fired int `json:"fired"`
		}
		if resp.StatusCode >= 300 {
			_ = resp.Body.Close()
			return fired, fmt.Errorf("evaluate failed for %s: http %d", unit.ID, resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
			_ = resp.Body.Close()
			return fired, err
		}
		_ = resp.Body.Close()
		fired += summary.Fired
	}
	return fired, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envOrFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envOrBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
