// Package livecheck runs a read-only end-to-end check against a real
// provider portal: login, permit, reservations and favorites, printed with
// masked license plates.
package livecheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/PaesslerAG/gval"
	"go.uber.org/zap"

	"github.com/sir-Unknown/cityvisitorparking/internal/sanitize"
	"github.com/sir-Unknown/cityvisitorparking/pkg/client"
	"github.com/sir-Unknown/cityvisitorparking/pkg/metrics"
	"github.com/sir-Unknown/cityvisitorparking/pkg/models"
	"github.com/sir-Unknown/cityvisitorparking/pkg/provider"
	"github.com/sir-Unknown/cityvisitorparking/pkg/tracer"
	"github.com/sir-Unknown/cityvisitorparking/pkg/util"
)

// Config selects the portal the check runs against.
type Config struct {
	Provider   string        `yaml:"provider"`
	BaseURL    string        `yaml:"base_url"`
	APIURI     string        `yaml:"api_uri"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
}

// Params carry the per-invocation inputs.
type Params struct {
	Credentials provider.Credentials
	// Filter is an optional expression evaluated per reservation and
	// favorite row; rows evaluating to false are dropped from the report.
	Filter string
	// Dump prints the sanitized raw payloads after the report.
	Dump bool
}

type Runner struct {
	cfg      *Config
	lgr      *zap.SugaredLogger
	trc      *tracer.Tracer
	registry metrics.MetricsRegistry
	out      io.Writer
}

func NewRunner(cfg *Config, lgr *zap.SugaredLogger, trc *tracer.Tracer, registry metrics.MetricsRegistry) *Runner {
	return &Runner{
		cfg:      cfg,
		lgr:      lgr,
		trc:      trc,
		registry: registry,
		out:      os.Stdout,
	}
}

// Run performs the live check and writes the report.
func (r *Runner) Run(ctx context.Context, params Params) error {
	if r.cfg == nil || r.cfg.Provider == "" {
		return fmt.Errorf("check.provider is not configured")
	}

	var filter gval.Evaluable
	if params.Filter != "" {
		compiled, err := gval.Full().NewEvaluable(params.Filter)
		if err != nil {
			return fmt.Errorf("compile filter expression: %w", err)
		}
		filter = compiled
	}

	c, err := client.New(
		client.WithBaseURL(r.cfg.BaseURL),
		client.WithAPIURI(r.cfg.APIURI),
		client.WithTimeout(r.cfg.Timeout),
		client.WithRetryCount(r.cfg.RetryCount),
		client.WithLogger(r.lgr),
		client.WithTracer(r.trc),
		client.WithMetrics(r.registry),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	api, err := c.GetProvider(ctx, r.cfg.Provider)
	if err != nil {
		return err
	}
	if err := api.Login(ctx, params.Credentials); err != nil {
		return err
	}
	r.lgr.Infow("live check authenticated", "provider", r.cfg.Provider)

	permit, err := api.GetPermit(ctx)
	if err != nil {
		return err
	}
	reservations, err := api.ListReservations(ctx)
	if err != nil {
		return err
	}
	favorites, err := api.ListFavorites(ctx)
	if err != nil {
		return err
	}

	reservations, err = filterReservations(ctx, filter, reservations)
	if err != nil {
		return err
	}
	favorites, err = filterFavorites(ctx, filter, favorites)
	if err != nil {
		return err
	}

	info := api.Info()
	fmt.Fprintf(r.out, "Provider: %s (%s)\n", info.Name, info.ID)
	fmt.Fprintf(r.out, "Permit: %s balance=%dmin windows=%d\n",
		permit.ID, permit.RemainingBalance, len(permit.ZoneValidity))
	fmt.Fprintf(r.out, "Reservations: %d\n", len(reservations))
	for _, reservation := range reservations {
		fmt.Fprintf(r.out, "- %s\n", formatReservation(reservation))
	}
	fmt.Fprintf(r.out, "Favorites: %d\n", len(favorites))
	for _, favorite := range favorites {
		fmt.Fprintf(r.out, "- %s\n", formatFavorite(favorite))
	}

	if params.Dump {
		if err := r.dump(permit, reservations, favorites); err != nil {
			return err
		}
	}
	return nil
}

func filterReservations(ctx context.Context, filter gval.Evaluable, reservations []models.Reservation) ([]models.Reservation, error) {
	if filter == nil {
		return reservations, nil
	}
	kept := reservations[:0]
	for _, reservation := range reservations {
		keep, err := filter.EvalBool(ctx, map[string]interface{}{
			"kind":          "reservation",
			"id":            reservation.ID,
			"name":          reservation.Name,
			"license_plate": util.MaskLicensePlate(reservation.LicensePlate),
			"start_time":    util.FormatUTC(reservation.StartTime),
			"end_time":      util.FormatUTC(reservation.EndTime),
			"minutes":       reservation.EndTime.Sub(reservation.StartTime).Minutes(),
		})
		if err != nil {
			return nil, fmt.Errorf("evaluate filter expression: %w", err)
		}
		if keep {
			kept = append(kept, reservation)
		}
	}
	return kept, nil
}

func filterFavorites(ctx context.Context, filter gval.Evaluable, favorites []models.Favorite) ([]models.Favorite, error) {
	if filter == nil {
		return favorites, nil
	}
	kept := favorites[:0]
	for _, favorite := range favorites {
		keep, err := filter.EvalBool(ctx, map[string]interface{}{
			"kind":          "favorite",
			"id":            favoriteDisplayID(favorite),
			"name":          favorite.Name,
			"license_plate": util.MaskLicensePlate(favorite.LicensePlate),
		})
		if err != nil {
			return nil, fmt.Errorf("evaluate filter expression: %w", err)
		}
		if keep {
			kept = append(kept, favorite)
		}
	}
	return kept, nil
}

func formatReservation(r models.Reservation) string {
	name := r.Name
	if name == "" {
		name = "-"
	}
	return fmt.Sprintf("%s | %s | %s | %s -> %s",
		r.ID, name, util.MaskLicensePlate(r.LicensePlate),
		util.FormatUTC(r.StartTime), util.FormatUTC(r.EndTime))
}

func formatFavorite(f models.Favorite) string {
	name := f.Name
	if name == "" {
		name = "-"
	}
	return fmt.Sprintf("%s | %s | %s", favoriteDisplayID(f), name, util.MaskLicensePlate(f.LicensePlate))
}

// favoriteDisplayID masks favorite ids that are themselves a license plate,
// which is how plate-keyed portals identify favorites.
func favoriteDisplayID(f models.Favorite) string {
	if f.ID != "" && f.ID == f.LicensePlate {
		return util.MaskLicensePlate(f.ID)
	}
	return f.ID
}

// dump prints the fetched payloads after a pass through the sanitizer.
func (r *Runner) dump(permit models.Permit, reservations []models.Reservation, favorites []models.Favorite) error {
	payload := map[string]any{
		"permit":       permit,
		"reservations": reservations,
		"favorites":    favorites,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode dump payload: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode dump payload: %w", err)
	}
	pretty, err := json.MarshalIndent(sanitize.Data(decoded), "", "  ")
	if err != nil {
		return fmt.Errorf("encode sanitized dump: %w", err)
	}
	fmt.Fprintln(r.out, string(pretty))
	return nil
}
