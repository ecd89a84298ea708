// Package domain models quality-controlled river sensor data.
//
// # Data Source
//
// Raw measurements originate from multi-parameter sondes deployed across a
// river-monitoring network. The upstream acquisition service polls vendor
// APIs on a cron schedule and publishes each observation as flat JSON to the
// Kafka source topic: {site, timestamp (UTC), parameter, value, units}. The
// feed may contain exact duplicate tuples; the engine deduplicates before
// aggregation.
//
// # Cadence and Intervals
//
// Sondes log at irregular rates (1-15 minutes depending on deployment). All
// series are resampled onto a fixed 15-minute cadence; every observation whose
// timestamp falls inside an interval is averaged into that interval's mean,
// with n_obs recording the count and spread the max-min within the interval.
// Missing intervals are materialized as rows with a null mean rather than
// omitted, so every series has a gap-free index.
//
// # Flag Taxonomy
//
// Quality concerns are a closed set of tags (see the Flag constants). Tags on
// one interval form an ordered, deduplicated set; re-running the pipeline on
// unchanged input yields an identical set. Three evaluation layers apply in
// strict order, and later layers may clear tags set by earlier ones:
//
//	layer 1: per-series parameter rules (range, slope, noise, drift, ...)
//	layer 2: cross-parameter site consistency (frozen, burial, unsubmerged)
//	layer 3: cross-site network consistency (synchronized events, suspect data)
//
// Technician-reported malfunctions travel on a separate malfunction_flag
// column so automatic and reported concerns stay distinguishable downstream.
//
// # Seasons
//
// Seasonal thresholds follow four calendar-derived hydrologic regimes:
//
//	Dec-Apr  winter base flow
//	May-Jun  snow melt
//	Jul-Sep  monsoon
//	Oct-Nov  fall base flow
//
// # Historical Record
//
// Rows produced by a run carry historical=false until the merger reconciles
// them with the committed store. On key conflict the new batch wins entirely;
// after the merge every retained row is historical=true, which gives the next
// run a clean baseline. Keys are (site, parameter, timestamp), so replaying a
// batch is idempotent.
package domain
