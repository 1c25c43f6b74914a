package reference

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `system:index,CROP_2023,OPENET_ID,.geo
0,49,CA_062495,"{""type"":""Point"",""coordinates"":[-121.64489395805282,36.633390650961346]}"
1,3,CA_270812,"{""type"":""Polygon"",""coordinates"":[[[-119.1,35.2],[-119.0,35.2],[-119.0,35.3],[-119.1,35.2]]]}"
2,3,CA_BROKEN,not-json
3,47,CA_062495,"{""type"":""Point"",""coordinates"":[0,0]}"
`

func TestLoadCSV(t *testing.T) {
	ref, err := LoadCSV(strings.NewReader(sampleCSV), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"CA_062495", "CA_270812", "CA_BROKEN"}, ref.IDs())

	field, err := ref.Lookup("CA_062495")
	require.NoError(t, err)
	assert.Equal(t, "49", field.Crop)
	assert.JSONEq(t, `[-121.64489395805282,36.633390650961346]`, string(field.Geometry))

	poly, err := ref.Lookup("CA_270812")
	require.NoError(t, err)
	assert.JSONEq(t, `[[[-119.1,35.2],[-119.0,35.2],[-119.0,35.3],[-119.1,35.2]]]`, string(poly.Geometry))
}

func TestLookup_Errors(t *testing.T) {
	ref, err := LoadCSV(strings.NewReader(sampleCSV), DefaultOptions())
	require.NoError(t, err)

	_, err = ref.Lookup("CA_MISSING")
	assert.ErrorIs(t, err, ErrFieldNotFound)

	_, err = ref.Lookup("CA_BROKEN")
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestLoadCSV_CustomColumns(t *testing.T) {
	data := "site,crop_code,geom\nX1,12,\"{\"\"coordinates\"\":[1,2]}\"\n"

	ref, err := LoadCSV(strings.NewReader(data), Options{IDColumn: "site", CropColumn: "crop_code", GeometryColumn: "geom"})
	require.NoError(t, err)

	field, err := ref.Lookup("X1")
	require.NoError(t, err)
	assert.Equal(t, "12", field.Crop)
	assert.JSONEq(t, `[1,2]`, string(field.Geometry))
}

func TestLoadCSV_MissingColumn(t *testing.T) {
	_, err := LoadCSV(strings.NewReader("OPENET_ID,.geo\nA,{}\n"), Options{})
	assert.ErrorContains(t, err, "CROP_2023")
}
