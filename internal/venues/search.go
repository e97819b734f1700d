package venues

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Hit is one venue in a discovery result.
type Hit struct {
	VenueID      string  `json:"venue_id"`
	Name         string  `json:"name"`
	LocationText string  `json:"location_text"`
	DistanceKm   float64 `json:"distance_km"`
}

// Finder lists active venues near a point, closest first.
type Finder interface {
	Nearby(ctx context.Context, lat, lon float64, offset, limit int) ([]Hit, bool, error)
}

// Indexer makes a venue discoverable.
type Indexer interface {
	IndexVenue(ctx context.Context, v *models.Venue) error
}

// Search is the Elasticsearch-backed Finder and Indexer.
type Search struct {
	client   *elasticsearch.Client
	index    string
	radiusKm int
	logger   logger.Logger
}

func NewSearch(client *elasticsearch.Client, index string, log logger.Logger) *Search {
	return &Search{
		client:   client,
		index:    index,
		radiusKm: 25,
		logger:   log.WithFields(map[string]interface{}{"component": "venue_search"}),
	}
}

type venueDoc struct {
	Name         string             `json:"name"`
	Slug         string             `json:"slug"`
	LocationText string             `json:"location_text"`
	CityArea     string             `json:"city_area"`
	Country      string             `json:"country"`
	Active       bool               `json:"active"`
	Location     map[string]float64 `json:"location,omitempty"`
}

var venueMapping = map[string]interface{}{
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"name":          map[string]interface{}{"type": "text"},
			"slug":          map[string]interface{}{"type": "keyword"},
			"location_text": map[string]interface{}{"type": "text"},
			"city_area":     map[string]interface{}{"type": "keyword"},
			"country":       map[string]interface{}{"type": "keyword"},
			"active":        map[string]interface{}{"type": "boolean"},
			"location":      map[string]interface{}{"type": "geo_point"},
		},
	},
}

// EnsureIndex creates the venue index with a geo_point location when it does not exist yet.
// Distance queries fail against a dynamically mapped index.
func (s *Search) EnsureIndex(ctx context.Context) error {
	exists, err := esapi.IndicesExistsRequest{Index: []string{s.index}}.Do(ctx, s.client)
	if err != nil {
		return errors.NewSearchQueryFailedError("index_exists", err)
	}
	exists.Body.Close()
	if exists.StatusCode == 200 {
		return nil
	}

	body, err := json.Marshal(venueMapping)
	if err != nil {
		return err
	}
	res, err := esapi.IndicesCreateRequest{Index: s.index, Body: bytes.NewReader(body)}.Do(ctx, s.client)
	if err != nil {
		return errors.NewSearchQueryFailedError("create_index", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		// Another instance won the race.
		if bytes.Contains(msg, []byte("resource_already_exists_exception")) {
			return nil
		}
		return errors.NewSearchQueryFailedError("create_index", fmt.Errorf("%s: %s", res.Status(), msg))
	}
	s.logger.Info("venue index created", map[string]interface{}{"index": s.index})
	return nil
}

func (s *Search) IndexVenue(ctx context.Context, v *models.Venue) error {
	doc := venueDoc{
		Name:         v.Name,
		Slug:         v.Slug,
		LocationText: v.LocationText,
		CityArea:     v.CityArea,
		Country:      v.Country,
		Active:       v.IsActive,
	}
	if v.Latitude != nil && v.Longitude != nil {
		doc.Location = map[string]float64{"lat": *v.Latitude, "lon": *v.Longitude}
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: v.ID,
		Body:       bytes.NewReader(body),
		Refresh:    "false",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return errors.NewSearchQueryFailedError("index_venue", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return errors.NewSearchQueryFailedError("index_venue", fmt.Errorf("%s: %s", res.Status(), msg))
	}
	return nil
}

func (s *Search) nearbyQuery(lat, lon float64) map[string]interface{} {
	point := map[string]float64{"lat": lat, "lon": lon}
	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"active": true}},
					map[string]interface{}{
						"geo_distance": map[string]interface{}{
							"distance": fmt.Sprintf("%dkm", s.radiusKm),
							"location": point,
						},
					},
				},
			},
		},
		"sort": []interface{}{
			map[string]interface{}{
				"_geo_distance": map[string]interface{}{
					"location": point,
					"order":    "asc",
					"unit":     "km",
				},
			},
		},
	}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string        `json:"_id"`
			Source venueDoc      `json:"_source"`
			Sort   []interface{} `json:"sort"`
		} `json:"hits"`
	} `json:"hits"`
}

func (s *Search) Nearby(ctx context.Context, lat, lon float64, offset, limit int) ([]Hit, bool, error) {
	body, _ := json.Marshal(s.nearbyQuery(lat, lon))
	size := limit + 1

	req := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  bytes.NewReader(body),
		From:  &offset,
		Size:  &size,
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, false, errors.NewSearchQueryFailedError("nearby_venues", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return nil, false, errors.NewSearchQueryFailedError("nearby_venues", fmt.Errorf("%s: %s", res.Status(), msg))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, false, errors.NewSearchQueryFailedError("nearby_venues", err)
	}

	hits := make([]Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hit := Hit{VenueID: h.ID, Name: h.Source.Name, LocationText: h.Source.LocationText}
		if len(h.Sort) > 0 {
			if d, ok := h.Sort[0].(float64); ok {
				hit.DistanceKm = d
			}
		}
		hits = append(hits, hit)
	}
	if len(hits) > limit {
		return hits[:limit], true, nil
	}
	return hits, false, nil
}

// Nearby on the directory orders active venues by equirectangular distance in SQL.
// It serves discovery when no search cluster is configured.
func (d *Directory) Nearby(ctx context.Context, lat, lon float64, offset, limit int) ([]Hit, bool, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(location_text, ''),
			111.32 * sqrt(power(latitude - $1, 2) + power((longitude - $2) * cos(radians($1)), 2)) AS km
		FROM venues
		WHERE is_active AND latitude IS NOT NULL AND longitude IS NOT NULL
		ORDER BY km
		OFFSET $3 LIMIT $4`, lat, lon, offset, limit+1)
	if err != nil {
		return nil, false, errors.WrapQuery("nearby_venues", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.VenueID, &h.Name, &h.LocationText, &h.DistanceKm); err != nil {
			return nil, false, errors.WrapQuery("nearby_venues", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, false, errors.WrapQuery("nearby_venues", err)
	}
	if len(hits) > limit {
		return hits[:limit], true, nil
	}
	return hits, false, nil
}
