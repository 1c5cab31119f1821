package controllers

import (
	"bytes"
	"mime/multipart"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func fileHeaderFor(t *testing.T, name string, content []byte) *multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/api/import", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	return req.MultipartForm.File["file"][0]
}

func TestParseSpreadsheetCSV(t *testing.T) {
	csv := []byte("PONumber,sku,Shipment,quantity\nPO-1,SKU-1,SHP-1,10\nPO-2,SKU-2,SHP-2,5\n,,,\n")

	records, err := parseSpreadsheet(fileHeaderFor(t, "orders.csv", csv))
	require.NoError(t, err)
	require.Len(t, records, 2, "fully empty rows are dropped")

	assert.Equal(t, "PO-1", records[0]["PONumber"])
	assert.Equal(t, "SKU-1", records[0]["sku"])
	assert.Equal(t, "10", records[0]["quantity"])
	assert.Equal(t, "PO-2", records[1]["PONumber"])
}

func TestParseSpreadsheetXLSX(t *testing.T) {
	workbook := excelize.NewFile()
	sheet := workbook.GetSheetName(0)
	require.NoError(t, workbook.SetSheetRow(sheet, "A1", &[]interface{}{"PONumber", "sku", "Shipment", "quantity"}))
	require.NoError(t, workbook.SetSheetRow(sheet, "A2", &[]interface{}{"PO-1", "SKU-1", "SHP-1", 10}))
	buf, err := workbook.WriteToBuffer()
	require.NoError(t, err)

	records, err := parseSpreadsheet(fileHeaderFor(t, "orders.xlsx", buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "PO-1", records[0]["PONumber"])
	assert.Equal(t, "10", records[0]["quantity"])
}

func TestParseSpreadsheetUnsupportedType(t *testing.T) {
	_, err := parseSpreadsheet(fileHeaderFor(t, "orders.pdf", []byte("%PDF")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestRecordsFromRowsRaggedInput(t *testing.T) {
	records := recordsFromRows([][]string{
		{"A", "B", "C"},
		{"1", "2"},
		{"1", "2", "3", "4"},
	})
	require.Len(t, records, 2)
	assert.Equal(t, map[string]interface{}{"A": "1", "B": "2"}, records[0], "short rows keep the columns they have")
	assert.Equal(t, map[string]interface{}{"A": "1", "B": "2", "C": "3"}, records[1], "extra cells beyond the header are ignored")
}

func TestRecordsFromRowsHeaderOnly(t *testing.T) {
	assert.Nil(t, recordsFromRows([][]string{{"A", "B"}}))
	assert.Nil(t, recordsFromRows(nil))
}
