// Package model contains the event types shared by the trigger, the queue and
// the worker.
package model

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DefaultContentType is used when a notification does not carry one.
const DefaultContentType = "application/octet-stream"

var (
	// ErrInvalidEvent is returned for payloads that do not describe an object.
	ErrInvalidEvent = errors.New("invalid storage event")
	// ErrIgnoredEvent is returned when a notification only reports changes
	// other than a new object, such as deletes or metadata updates.
	ErrIgnoredEvent = errors.New("not an object creation event")
)

// Cloud Storage notification type for a newly written object.
const pubSubFinalize = "OBJECT_FINALIZE"

// StorageEvent describes a finalized object. The JSON field names follow the
// Cloud Storage object resource, so a raw notification decodes directly.
type StorageEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	// Generation identifies this write of the object: the Cloud Storage
	// generation, or the S3 sequencer. Empty when the notifier has none.
	Generation string `json:"generation,omitempty"`
}

// Validate checks the fields every handler relies on.
func (e StorageEvent) Validate() error {
	if e.Bucket == "" {
		return fmt.Errorf("%w: bucket is empty", ErrInvalidEvent)
	}
	if e.Name == "" {
		return fmt.Errorf("%w: object name is empty", ErrInvalidEvent)
	}
	return nil
}

func (e *StorageEvent) defaults() {
	if e.ContentType == "" {
		e.ContentType = DefaultContentType
	}
}

// pubSubPush is the envelope Pub/Sub uses for push subscriptions.
type pubSubPush struct {
	Message *struct {
		Data       string            `json:"data"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
}

// s3Notification covers both AWS S3 and MinIO bucket notifications.
type s3Notification struct {
	Records []struct {
		EventName string `json:"eventName"`
		EventTime string `json:"eventTime"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key         string `json:"key"`
				ContentType string `json:"contentType"`
				VersionID   string `json:"versionId"`
				Sequencer   string `json:"sequencer"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// DecodeStorageEvents accepts a Cloud Storage object resource, a Pub/Sub push
// envelope wrapping one, or an S3/MinIO notification, and returns the
// objects it describes. Only object creations are returned; a notification
// that carries nothing else fails with ErrIgnoredEvent.
func DecodeStorageEvents(data []byte) ([]StorageEvent, error) {
	data = bytes.TrimSpace(data)
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	switch {
	case probe["Records"] != nil:
		return decodeS3(data)
	case probe["message"] != nil:
		ev, err := decodePubSub(data)
		if err != nil {
			return nil, err
		}
		return []StorageEvent{ev}, nil
	default:
		var ev StorageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		ev.defaults()
		if err := ev.Validate(); err != nil {
			return nil, err
		}
		return []StorageEvent{ev}, nil
	}
}

func decodePubSub(data []byte) (StorageEvent, error) {
	var push pubSubPush
	if err := json.Unmarshal(data, &push); err != nil {
		return StorageEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if push.Message == nil {
		return StorageEvent{}, fmt.Errorf("%w: empty pub/sub message", ErrInvalidEvent)
	}
	attrs := push.Message.Attributes
	if t := attrs["eventType"]; t != "" && t != pubSubFinalize {
		return StorageEvent{}, fmt.Errorf("%w: %s", ErrIgnoredEvent, t)
	}
	var ev StorageEvent
	if push.Message.Data != "" {
		raw, err := base64.StdEncoding.DecodeString(push.Message.Data)
		if err != nil {
			return StorageEvent{}, fmt.Errorf("%w: message data: %v", ErrInvalidEvent, err)
		}
		if err := json.Unmarshal(raw, &ev); err != nil {
			return StorageEvent{}, fmt.Errorf("%w: message data: %v", ErrInvalidEvent, err)
		}
	}
	// Notifications configured without a payload only carry attributes.
	if ev.Bucket == "" {
		ev.Bucket = attrs["bucketId"]
	}
	if ev.Name == "" {
		ev.Name = attrs["objectId"]
	}
	if ev.Generation == "" {
		ev.Generation = attrs["objectGeneration"]
	}
	ev.defaults()
	return ev, ev.Validate()
}

// s3Created reports whether an S3 event name is an ObjectCreated event. AWS
// sends "ObjectCreated:Put", MinIO "s3:ObjectCreated:Put".
func s3Created(eventName string) bool {
	return strings.HasPrefix(strings.TrimPrefix(eventName, "s3:"), "ObjectCreated:")
}

func decodeS3(data []byte) ([]StorageEvent, error) {
	var n s3Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if len(n.Records) == 0 {
		return nil, fmt.Errorf("%w: notification has no records", ErrInvalidEvent)
	}
	events := make([]StorageEvent, 0, len(n.Records))
	var skipped []string
	for _, rec := range n.Records {
		if !s3Created(rec.EventName) {
			skipped = append(skipped, rec.EventName)
			continue
		}
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: object key %q: %v", ErrInvalidEvent, rec.S3.Object.Key, err)
		}
		ev := StorageEvent{
			Bucket:      rec.S3.Bucket.Name,
			Name:        key,
			ContentType: rec.S3.Object.ContentType,
			Generation:  s3Generation(rec.S3.Object.Sequencer, rec.S3.Object.VersionID, rec.EventTime),
		}
		ev.defaults()
		if err := ev.Validate(); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrIgnoredEvent, strings.Join(skipped, ", "))
	}
	return events, nil
}

func s3Generation(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}
