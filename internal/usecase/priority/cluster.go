package priority

import (
	"context"
	"fmt"
	"time"

	"github.com/civisense/ai-decision-engine/internal/domain"
)

const (
	clusterRadiusMeters = 500.0
	clusterLookback     = 3 * 24 * time.Hour
	clusterThreshold    = 3
)

// ClusterContext reports how many recent complaints sit near this one.
type ClusterContext struct {
	NearbyCount  int
	ClusterBoost float64
}

// NearbyCounter is the slice of the complaint store the detector needs.
type NearbyCounter interface {
	CountNearbyComplaints(ctx context.Context, excludeCID string, lng, lat, radiusMeters float64, since time.Time, max int) (int, error)
}

// ClusterDetector counts nearby recent complaints. Counting stops at the
// threshold; the boost is binary.
type ClusterDetector struct {
	complaints NearbyCounter
	now        func() time.Time
}

// NewClusterDetector constructs a ClusterDetector.
func NewClusterDetector(complaints NearbyCounter) *ClusterDetector {
	return &ClusterDetector{complaints: complaints, now: time.Now}
}

// Detect counts complaints within 500 m created in the last 3 days,
// excluding the current cid. ClusterBoost is 1.0 at >= 3 neighbors.
func (d *ClusterDetector) Detect(ctx context.Context, complaint domain.Complaint) (ClusterContext, error) {
	if complaint.Location == nil {
		return ClusterContext{}, nil
	}
	since := d.now().UTC().Add(-clusterLookback)
	count, err := d.complaints.CountNearbyComplaints(ctx,
		complaint.CID,
		complaint.Location.Lng, complaint.Location.Lat,
		clusterRadiusMeters, since, clusterThreshold)
	if err != nil {
		return ClusterContext{}, fmt.Errorf("op=priority.cluster: %w", err)
	}
	boost := 0.0
	if count >= clusterThreshold {
		boost = 1.0
	}
	return ClusterContext{NearbyCount: count, ClusterBoost: boost}, nil
}
