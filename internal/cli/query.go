package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/admitlog/internal/engine"
	"github.com/roach88/admitlog/internal/ir"
	"github.com/roach88/admitlog/internal/store"
	"github.com/roach88/admitlog/internal/temporal"
)

// QueryOptions holds flags shared by the read-only commands.
type QueryOptions struct {
	*RootOptions
	Database string
}

// EncounterOutput is the current belief about an encounter.
type EncounterOutput struct {
	Key       string           `json:"key"`
	Owner     string           `json:"owner,omitempty"`
	Visit     ir.HospitalVisit `json:"visit"`
	Locations []LocationOutput `json:"locations"`
}

// LocationOutput is one location visit of an encounter.
type LocationOutput struct {
	Key string `json:"key"`
	ir.LocationVisit
}

// IdentityOutput is the current belief about a patient.
type IdentityOutput struct {
	Key          string           `json:"key"`
	Canonical    string           `json:"canonical"`
	Hops         int              `json:"hops"`
	Merged       []string         `json:"merged"`
	Encounters   []string         `json:"encounters"`
	Demographics *ir.Demographics `json:"demographics,omitempty"`
	Conditions   []ir.Condition   `json:"conditions"`
}

// RowOutput is one stored row of an entity.
type RowOutput struct {
	ID          int64           `json:"id"`
	Tombstone   bool            `json:"tombstone,omitempty"`
	ValidFrom   time.Time       `json:"valid_from"`
	ValidUntil  *time.Time      `json:"valid_until,omitempty"`
	StoredFrom  time.Time       `json:"stored_from"`
	StoredUntil *time.Time      `json:"stored_until,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
}

// VersionOutput is one segment of a believed timeline.
type VersionOutput struct {
	ValidFrom time.Time       `json:"valid_from"`
	Absent    bool            `json:"absent,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
}

// HistoryOutput answers a history query. Rows lists stored rows, Believed
// the timeline believed at StoredTime, and Row the single row asserted
// for EventTime.
type HistoryOutput struct {
	Type       string          `json:"type"`
	Key        string          `json:"key"`
	EventTime  *time.Time      `json:"event_time,omitempty"`
	StoredTime *time.Time      `json:"stored_time,omitempty"`
	Rows       []RowOutput     `json:"rows,omitempty"`
	Believed   []VersionOutput `json:"believed,omitempty"`
	Row        *RowOutput      `json:"row,omitempty"`
}

func addDatabaseFlag(cmd *cobra.Command, opts *QueryOptions) {
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
}

// NewEncounterCommand creates the encounter command.
func NewEncounterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "encounter --db PATH KEY",
		Short: "Show the current state of an encounter",
		Long: `Show the root visit and location visits currently believed for an
encounter, with the identity that owns it.

Examples:
  admitlog encounter --db ./admitlog.db ENC-1
  admitlog encounter --db ./admitlog.db ENC-1 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, cmd, func(eng *engine.Engine) error {
				return runEncounter(opts, eng, args[0], cmd)
			})
		},
	}
	addDatabaseFlag(cmd, opts)
	return cmd
}

// NewIdentityCommand creates the identity command.
func NewIdentityCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "identity --db PATH KEY",
		Short: "Resolve a patient key to its canonical identity",
		Long: `Follow merges from a patient key to the live identity and show what is
believed about it: merged keys, owned encounters, demographics and
conditions.

Examples:
  admitlog identity --db ./admitlog.db MRN-1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, cmd, func(eng *engine.Engine) error {
				return runIdentity(opts, eng, args[0], cmd)
			})
		},
	}
	addDatabaseFlag(cmd, opts)
	return cmd
}

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	QueryOptions
	EntityType string
	Key        string
	EventTime  string
	StoredTime string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{QueryOptions: QueryOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "history --db PATH --type T --key K",
		Short: "Show the bitemporal history of an entity",
		Long: `Show stored rows of an entity and what was believed when.

Without times, every row ever stored is listed with the currently
believed timeline. --stored-time shows the timeline as believed at that
processing time. --event-time selects the single row asserted for that
valid time, as believed at --stored-time (default now).

Entity types: visit, location_visit, live_pointer, demographics, condition.

Examples:
  admitlog history --db ./admitlog.db --type visit --key ENC-1
  admitlog history --db ./admitlog.db --type demographics --key MRN-1 \
    --event-time 2024-03-01T08:15:00Z --stored-time 2024-03-02T00:00:00Z`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(&opts.QueryOptions, cmd, func(eng *engine.Engine) error {
				return runHistory(opts, eng, cmd)
			})
		},
	}
	addDatabaseFlag(cmd, &opts.QueryOptions)
	cmd.Flags().StringVar(&opts.EntityType, "type", "", "entity type (required)")
	cmd.Flags().StringVar(&opts.Key, "key", "", "entity key (required)")
	cmd.Flags().StringVar(&opts.EventTime, "event-time", "", "valid time to look up (RFC 3339)")
	cmd.Flags().StringVar(&opts.StoredTime, "stored-time", "", "processing time of the belief (RFC 3339)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

// withEngine opens the store read for a query and runs fn with an engine
// on it.
func withEngine(opts *QueryOptions, cmd *cobra.Command, fn func(*engine.Engine) error) error {
	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	logger := opts.logger(cmd.ErrOrStderr())
	return fn(engine.New(st, engine.WithLogger(logger)))
}

// queryFailed reports a query error; unknown keys are command errors.
func queryFailed(formatter *OutputFormatter, what string, err error) error {
	if ir.IsNotFound(err) {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, what+" not found", err)
	}
	_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
	return WrapExitError(ExitCommandError, "failed to read "+what, err)
}

func runEncounter(opts *QueryOptions, eng *engine.Engine, key string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	state, err := eng.CurrentEncounterState(cmdContext(cmd), key)
	if err != nil {
		return queryFailed(formatter, "encounter", err)
	}

	out := EncounterOutput{
		Key:       state.Key,
		Owner:     state.Owner,
		Visit:     state.Visit,
		Locations: make([]LocationOutput, 0, len(state.Locations)),
	}
	for _, l := range state.Locations {
		out.Locations = append(out.Locations, LocationOutput{Key: l.Key, LocationVisit: l.LocationVisit})
	}

	if formatter.JSON() {
		return formatter.Success(out)
	}
	printEncounter(formatter.Writer, out)
	return nil
}

func printEncounter(w io.Writer, e EncounterOutput) {
	v := e.Visit
	fmt.Fprintf(w, "Encounter %s", e.Key)
	if e.Owner != "" {
		fmt.Fprintf(w, " (patient %s)", e.Owner)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  status:     %s\n", v.Status)
	fmt.Fprintf(w, "  admitted:   %s\n", formatTime(v.AdmissionTime))
	if !v.DischargeTime.IsZero() {
		fmt.Fprintf(w, "  discharged: %s\n", formatTime(v.DischargeTime))
	}
	if v.PatientClass != "" {
		fmt.Fprintf(w, "  class:      %s\n", v.PatientClass)
	}
	if v.Disposition != "" {
		fmt.Fprintf(w, "  outcome:    %s\n", v.Disposition)
	}
	if v.Died {
		fmt.Fprintf(w, "  died:       %s\n", formatTime(v.DeathTime))
	}
	if v.Implied {
		fmt.Fprintln(w, "  implied:    admission inferred from a later message")
	}

	if len(e.Locations) == 0 {
		return
	}
	fmt.Fprintln(w, "Locations:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, l := range e.Locations {
		until := "open"
		if !l.IsOpen() {
			until = formatTime(l.DischargeTime)
		}
		name := l.Location
		if name == "" {
			name = "(unknown)"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", name, formatTime(l.AdmissionTime), until)
	}
	tw.Flush()
}

func runIdentity(opts *QueryOptions, eng *engine.Engine, key string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	state, err := eng.CurrentIdentity(cmdContext(cmd), key)
	if err != nil {
		return queryFailed(formatter, "identity", err)
	}

	out := IdentityOutput{
		Key:          key,
		Canonical:    state.Canonical,
		Hops:         state.Hops,
		Merged:       nonNil(state.Merged),
		Encounters:   nonNil(state.Encounters),
		Demographics: state.Demographics,
		Conditions:   nonNil(state.Conditions),
	}

	if formatter.JSON() {
		return formatter.Success(out)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Identity %s -> %s", out.Key, out.Canonical)
	if out.Hops > 0 {
		fmt.Fprintf(w, " (%d merge hop(s))", out.Hops)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  merged:     %s\n", listOrNone(out.Merged))
	fmt.Fprintf(w, "  encounters: %s\n", listOrNone(out.Encounters))
	if d := out.Demographics; d != nil {
		fmt.Fprintf(w, "  name:       %s\n", strings.TrimSpace(d.GivenName+" "+d.FamilyName))
		if d.BirthDate != "" {
			fmt.Fprintf(w, "  born:       %s\n", d.BirthDate)
		}
	}
	for _, c := range out.Conditions {
		fmt.Fprintf(w, "  condition:  %s since %s", c.Code, formatTime(c.AddedTime))
		if c.Status != "" {
			fmt.Fprintf(w, " (%s)", c.Status)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func runHistory(opts *HistoryOptions, eng *engine.Engine, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmdContext(cmd)

	eventTime, err := parseTimeFlag("event-time", opts.EventTime)
	if err != nil {
		return err
	}
	storedTime, err := parseTimeFlag("stored-time", opts.StoredTime)
	if err != nil {
		return err
	}

	out := HistoryOutput{Type: opts.EntityType, Key: opts.Key, EventTime: eventTime, StoredTime: storedTime}

	if eventTime != nil {
		stored := time.Now()
		if storedTime != nil {
			stored = *storedTime
		}
		rec, err := eng.HistoryOf(ctx, opts.EntityType, opts.Key, *eventTime, stored)
		if err != nil {
			return queryFailed(formatter, opts.EntityType, err)
		}
		row := rowOutput(rec)
		out.Row = &row
	} else {
		history, err := eng.History(ctx, opts.EntityType, opts.Key)
		if err != nil {
			return queryFailed(formatter, opts.EntityType, err)
		}
		var believed []temporal.Version[store.Raw]
		if storedTime != nil {
			believed = temporal.BelievedAt(history, *storedTime)
		} else {
			believed = temporal.Believed(history)
			for _, r := range history {
				out.Rows = append(out.Rows, rowOutput(r))
			}
		}
		for _, v := range believed {
			out.Believed = append(out.Believed, VersionOutput{
				ValidFrom: v.ValidFrom,
				Absent:    v.Absent,
				Value:     rawValue(v.Value, v.Absent),
			})
		}
	}

	if formatter.JSON() {
		return formatter.Success(out)
	}
	printHistory(formatter.Writer, out)
	return nil
}

func printHistory(w io.Writer, h HistoryOutput) {
	fmt.Fprintf(w, "%s %s\n", h.Type, h.Key)

	if h.Row != nil {
		fmt.Fprintf(w, "As of %s", formatTime(*h.EventTime))
		if h.StoredTime != nil {
			fmt.Fprintf(w, ", believed at %s", formatTime(*h.StoredTime))
		}
		fmt.Fprintln(w, ":")
		fmt.Fprintf(w, "  row %d valid %s .. %s: %s\n",
			h.Row.ID, formatTime(h.Row.ValidFrom), formatOpen(h.Row.ValidUntil), string(h.Row.Value))
		return
	}

	if len(h.Rows) > 0 {
		fmt.Fprintln(w, "Rows:")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  ID\tVALID FROM\tVALID UNTIL\tSTORED FROM\tSTORED UNTIL\tVALUE")
		for _, r := range h.Rows {
			value := string(r.Value)
			if r.Tombstone {
				value = "(tombstone)"
			}
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\t%s\n", r.ID,
				formatTime(r.ValidFrom), formatOpen(r.ValidUntil),
				formatTime(r.StoredFrom), formatOpen(r.StoredUntil), value)
		}
		tw.Flush()
	}

	if h.StoredTime != nil {
		fmt.Fprintf(w, "Believed at %s:\n", formatTime(*h.StoredTime))
	} else {
		fmt.Fprintln(w, "Believed:")
	}
	if len(h.Believed) == 0 {
		fmt.Fprintln(w, "  nothing")
	}
	for _, v := range h.Believed {
		if v.Absent {
			fmt.Fprintf(w, "  from %s: absent\n", formatTime(v.ValidFrom))
			continue
		}
		fmt.Fprintf(w, "  from %s: %s\n", formatTime(v.ValidFrom), string(v.Value))
	}
}

func rowOutput(r temporal.Record[store.Raw]) RowOutput {
	return RowOutput{
		ID:          r.ID,
		Tombstone:   r.Tombstone,
		ValidFrom:   r.ValidFrom,
		ValidUntil:  r.ValidUntil,
		StoredFrom:  r.StoredFrom,
		StoredUntil: r.StoredUntil,
		Value:       rawValue(r.Value, r.Tombstone),
	}
}

func rawValue(v store.Raw, absent bool) json.RawMessage {
	if absent || len(v) == 0 {
		return nil
	}
	return json.RawMessage(v)
}

func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid --"+name, err)
	}
	t = ir.Normalize(t)
	return &t, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatOpen(t *time.Time) string {
	if t == nil {
		return "∞"
	}
	return formatTime(*t)
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
