/*
Package settle computes 95th-percentile settlement values ("95 values") for
groups of endpoints from time-bucketed traffic samples.

# The range_95 rule

Burstable billing discards the top 5% of observations and charges for the
next highest rate. For a window holding N samples:

	k = floor(N * 0.05)      // samples to discard
	value = (k+1)-th largest // max of the remaining N-k

A standard month of 5-minute buckets has 8640 samples, so the 432 most
bursty intervals are free; one day of 288 buckets forgives the top 14.

# Pipeline

 1. Select each entity's samples; optionally merge the V4/V6 partitions per
    timestamp (missing side counts as zero, sample count is the union).
 2. Reduce each sample to a byte scalar per the direction parameter
    (send, recv, or both = send+recv).
 3. Optionally sum the scalars across all entities into one synthetic
    series for the whole group (combine-all).
 4. Convert bytes to mega-rate units: rate = bytes * 8 / interval / base²,
    where base is 1000 (decimal) or 1024 (binary).
 5. Apply range_95, either once over the window or once per calendar day.

Entities, days, or groups with zero contributing samples are omitted from
the output; they are never reported as zero-valued rows.

The package is pure: no I/O, no clocks, deterministic for a given input.
Fetching samples and exporting artifacts are the caller's concern (see
pkg/source and pkg/export).
*/
package settle
