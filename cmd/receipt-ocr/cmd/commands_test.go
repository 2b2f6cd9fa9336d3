package cmd

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/receipt-ocr/internal/testutil"
)

func TestEnginesCommand(t *testing.T) {
	useMockEngines(t, "SUMA 1,00", nil)

	output, err := executeCommandAndCaptureOutput(t, rootCmd, []string{"engines"})
	require.NoError(t, err)
	assert.Contains(t, output, "ENGINE")
	assert.Regexp(t, `tesseract\s+true\s+1\.00\s+0\.30\s+available`, output)
	assert.Regexp(t, `vision\s+false\s+0\.90\s+0\.30\s+unavailable: .*no credentials`, output)
	assert.Contains(t, output, "openai")
}

func TestRecognizeCommand_JSON(t *testing.T) {
	useMockEngines(t, "SHOP\nSUMA 12,50", nil)
	path := testutil.WriteTempFile(t, "receipt.png", testutil.ReceiptPNG(t, "SHOP", "SUMA 12,50"))

	output, err := executeCommandAndCaptureOutput(t, rootCmd,
		[]string{"recognize", path, "--format", "json", "--skip-cache", "--workers", "1"})
	require.NoError(t, err)

	var doc struct {
		Receipts []struct {
			File    string `json:"file"`
			Outcome struct {
				Text             string   `json:"text"`
				EnginesUsed      []string `json:"engines_used"`
				StrategyTierUsed string   `json:"strategy_tier_used"`
			} `json:"outcome"`
		} `json:"receipts"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &doc), output)
	require.Len(t, doc.Receipts, 1)
	assert.Equal(t, path, doc.Receipts[0].File)
	assert.Equal(t, "SHOP\nSUMA 12,50", doc.Receipts[0].Outcome.Text)
	assert.Equal(t, []string{"tesseract"}, doc.Receipts[0].Outcome.EnginesUsed)
	assert.Equal(t, "quick", doc.Receipts[0].Outcome.StrategyTierUsed)
}

func TestRecognizeCommand_AllFailed(t *testing.T) {
	useMockEngines(t, "", errors.New("engine crashed"))
	path := testutil.WriteTempFile(t, "receipt.png", testutil.ReceiptPNG(t, "X"))

	_, err := executeCommandAndCaptureOutput(t, rootCmd,
		[]string{"recognize", path, "--format", "text", "--deadline", "2s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 1 receipts failed")
}

func TestRecognizeCommand_BadFormat(t *testing.T) {
	useMockEngines(t, "X", nil)
	path := testutil.WriteTempFile(t, "receipt.png", testutil.ReceiptPNG(t, "X"))

	_, err := executeCommandAndCaptureOutput(t, rootCmd, []string{"recognize", path, "--format", "xml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
	recognizeCmd.Flags().Set("format", "text") //nolint:errcheck // reset shared flag state
}

func TestConfigInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipt-ocr.yaml")

	output, err := executeCommandAndCaptureOutput(t, rootCmd, []string{"config", "init", path})
	require.NoError(t, err)
	assert.Contains(t, output, "Configuration written to")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "strategy_tiers:")

	_, err = executeCommandAndCaptureOutput(t, rootCmd, []string{"config", "init", path})
	assert.Error(t, err)
}

func TestConfigShowCommand_RedactsSecrets(t *testing.T) {
	t.Setenv("RECEIPT_OCR_ENGINES_OPENAI_API_KEY", "sk-secret")

	output, err := executeCommandAndCaptureOutput(t, rootCmd, []string{"config", "show"})
	require.NoError(t, err)
	assert.Contains(t, output, "log_level:")
	assert.NotContains(t, output, "sk-secret")
	assert.Contains(t, output, `api_key: '***'`)
}
