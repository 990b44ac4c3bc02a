// Package domain models third-party severe-weather alerts and the pure logic
// that decides who hears about them.
//
// # Alert Payload
//
// Alerts arrive by webhook from an upstream provider. The identifier and the
// affected area are nested under "alert"; everything else sits at the top
// level:
//
//	{
//	  "alert": {"id": "...", "geometry": {"type": "Polygon", "coordinates": [...]}},
//	  "msg_type": "Alert",
//	  "severity": "Severe", "urgency": "Immediate", "certainty": "Observed",
//	  "start": 1714150200, "end": 1714161000,
//	  "sender": "NWS Norman OK",
//	  "description": [{"language": "En", "event": "Tornado Warning", ...}]
//	}
//
// An alert without an id is rejected by [ParseAlert] with [ErrValidation].
// start and end are unix seconds; zero means the bound is unknown.
//
// # Geometry
//
// Coordinates are [lon, lat] pairs. The provider's Polygon is a single ring
// and its MultiPolygon a list of rings, but GeoJSON-style nesting (rings
// inside polygons) is accepted too: [Geometry.Rings] keeps only exterior
// rings and ignores holes. Containment uses planar ray casting over lon/lat,
// which is accurate enough at warning-polygon scale.
//
// # Severity Ladder
//
// Severity is ordinal:
//
//	Extreme(4) > Severe(3) > Moderate(2) > Minor(1) > Unknown(0)
//
// Unrecognized or missing severities parse as Unknown, so they sort below
// every configured threshold except Unknown itself.
//
// # Formatting
//
// [FormatAlertForPosting] never fails. A payload without any localized
// description degrades to a minimal alert; geometry that cannot be read only
// drops the coordinates.
package domain
