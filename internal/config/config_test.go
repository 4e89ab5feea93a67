package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestLoad_Defaults 未设置环境变量时的默认值
func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "https://www.arcgis.com", cfg.ArcGIS.OrgURL)
	require.Equal(t, -1, cfg.ArcGIS.LayerIndex)
	require.Equal(t, 10*time.Second, cfg.ArcGIS.RequestTimeout)
	require.Equal(t, 60*time.Minute, cfg.ArcGIS.TokenValidity)
	require.False(t, cfg.Redis.Enabled)
	require.False(t, cfg.MQTT.Enabled)
	require.Equal(t, "sensors/readings", cfg.MQTT.Topic)
}

// TestLoad_FromEnv 环境变量覆盖默认值，URL 去掉尾部斜杠
func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("ARCGIS_URL", "https://myorg.maps.arcgis.com/")
	t.Setenv("ARCGIS_USERNAME", "svc-user")
	t.Setenv("ARCGIS_PASSWORD", "svc-pass")
	t.Setenv("FEATURE_SERVICE_URL", "https://services.arcgis.com/x/arcgis/rest/services/sensors/FeatureServer/")
	t.Setenv("FEATURE_LAYER_INDEX", "0")
	t.Setenv("ARCGIS_TIMEOUT_SECONDS", "30")

	cfg := Load()

	require.Equal(t, "https://myorg.maps.arcgis.com", cfg.ArcGIS.OrgURL)
	require.Equal(t, "https://services.arcgis.com/x/arcgis/rest/services/sensors/FeatureServer", cfg.ArcGIS.FeatureServiceURL)
	require.Equal(t, 0, cfg.ArcGIS.LayerIndex)
	require.Equal(t, 30*time.Second, cfg.ArcGIS.RequestTimeout)
	require.NoError(t, cfg.Validate())
}

// TestValidate_ListsAllMissing 缺失项一次性全部列出
func TestValidate_ListsAllMissing(t *testing.T) {
	cfg := Load()

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "ARCGIS_USERNAME")
	require.Contains(t, err.Error(), "ARCGIS_PASSWORD")
	require.Contains(t, err.Error(), "FEATURE_SERVICE_URL")
	require.Contains(t, err.Error(), "FEATURE_LAYER_INDEX")
}
