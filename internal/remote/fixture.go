package remote

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/sg-archive/internal/models"
)

func fieldDef(dataType string, validTypes ...string) *models.Map {
	m := models.MapOf(
		"data_type", models.MapOf("value", dataType),
		"name", models.MapOf("value", dataType),
	)
	if len(validTypes) > 0 {
		m.Set("properties", models.MapValue(models.MapOf("valid_types", models.MapOf("value", validTypes))))
	}
	return m
}

func entityDef(name string, visible bool) *models.Map {
	return models.MapOf("name", models.MapOf("value", name), "visible", models.MapOf("value", visible))
}

// FixtureSchema returns the field and entity schemas of the sample production served
// by Fixture.
func FixtureSchema() (schema, entitySchema *models.Map) {
	schema = models.MapOf(
		"Shot", models.MapOf(
			"code", fieldDef("text"),
			"created_at", fieldDef("date_time"),
			"image", fieldDef("image"),
			"sg_cut_in", fieldDef("number"),
			"sg_frame_rate", fieldDef("float"),
			"sg_sequence", fieldDef("entity", "Sequence"),
			"sg_uploaded_movie", fieldDef("url"),
			"attachments", fieldDef("multi_entity", "Attachment", "Version"),
			"cached_display_name", fieldDef("summary"),
		),
		"Attachment", models.MapOf(
			"this_file", fieldDef("url"),
			"image", fieldDef("image"),
			"filmstrip_image", fieldDef("image"),
			"content_type", fieldDef("text"),
			"description", fieldDef("text"),
		),
		"Sequence", models.MapOf(
			"code", fieldDef("text"),
		),
		"Version", models.MapOf(
			"code", fieldDef("text"),
		),
	)
	entitySchema = models.MapOf(
		"Shot", entityDef("Shot", true),
		"Attachment", entityDef("File", true),
		"Sequence", entityDef("Sequence", true),
		"Version", entityDef("Version", false),
	)
	return schema, entitySchema
}

// Fixture returns a MockClient holding a sample production: shots Shots, Sequence 1,
// Version 5 and two Attachments. Attachment 77 is linked from Shot 1's uploaded movie;
// Attachment 78 is shared by the attachments field of Shots 2 and 60. Every odd Shot has
// a thumbnail. File URLs are rooted at base.
func Fixture(base string, shots int) *MockClient {
	m := NewMockClient()
	m.SetSchema(FixtureSchema())

	created := time.Date(2020, 1, 2, 3, 4, 5, 600000, time.UTC)
	seq := models.NewRecord("Sequence", 1)
	seq.Set("code", models.String("sq010"))
	ver := models.NewRecord("Version", 5)
	ver.Set("code", models.String("sh001_comp_v001"))
	m.Add(seq, ver)

	for i := 1; i <= shots; i++ {
		r := models.NewRecord("Shot", int64(i))
		r.Set("code", models.String(fmt.Sprintf("sh%03d", i)))
		r.Set("created_at", models.Time(created.Add(time.Duration(i)*time.Hour)))
		if i%2 == 1 {
			r.Set("image", models.String(fmt.Sprintf("%s/thumbs/shot_%d.jpg?sig=abc", base, i)))
		} else {
			r.Set("image", models.Null())
		}
		r.Set("sg_cut_in", models.Int(int64(1000+i)))
		r.Set("sg_frame_rate", models.Float(24.0))
		r.Set("sg_sequence", models.Reference{Type: "Sequence", ID: 1, Name: "sq010"}.Value())
		r.Set("cached_display_name", models.String(fmt.Sprintf("sh%03d", i)))
		switch i {
		case 1:
			r.Set("sg_uploaded_movie", models.MapValue(models.MapOf(
				"type", models.AttachmentType,
				"id", 77,
				"name", "a.mov",
				"url", base+"/attachments/77",
				"link_type", "upload",
				"content_type", "video/quicktime",
			)))
			r.Set("attachments", models.List())
		case 2, 60:
			r.Set("sg_uploaded_movie", models.Null())
			r.Set("attachments", models.List(
				models.Reference{Type: models.AttachmentType, ID: 78, Name: "notes/v1.pdf"}.Value(),
				models.Reference{Type: "Version", ID: 5, Name: "sh001_comp_v001"}.Value(),
			))
		default:
			r.Set("sg_uploaded_movie", models.Null())
			r.Set("attachments", models.List())
		}
		m.Add(r)
	}

	a77 := models.NewRecord(models.AttachmentType, 77)
	a77.Set("this_file", models.MapValue(models.MapOf(
		"url", base+"/attachments/77",
		"name", "a.mov",
		"content_type", "video/quicktime",
		"link_type", "upload",
		"type", models.AttachmentType,
		"id", 77,
	)))
	a77.Set("image", models.Null())
	a77.Set("filmstrip_image", models.Null())
	a77.Set("content_type", models.String("video/quicktime"))
	a77.Set("description", models.String("first cut"))

	a78 := models.NewRecord(models.AttachmentType, 78)
	a78.Set("this_file", models.MapValue(models.MapOf(
		"url", base+"/attachments/78",
		"name", "notes/v1.pdf",
		"content_type", "application/pdf",
		"link_type", "upload",
		"type", models.AttachmentType,
		"id", 78,
	)))
	a78.Set("image", models.String(base+"/thumbs/att_78.png"))
	a78.Set("filmstrip_image", models.Null())
	a78.Set("content_type", models.String("application/pdf"))
	a78.Set("description", models.Null())
	m.Add(a77, a78)
	return m
}
