// internal/models/migrate.go
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// 旧版本字段名 -> 当前字段名
var (
	legacyProjectFields = map[string]string{
		"special_instructions": "movie_general_instructions",
	}
	legacySceneFields = map[string]string{
		"general_scene_description_and_motivations": "main_story",
	}
	legacyShotFields = map[string]string{
		"detailed_shot_description":          "director_instructions",
		"shot_director_instructions":         "director_instructions",
		"detailed_opening_scene_description": "opening_frame",
		"detailed_closing_scene_description": "closing_frame",
	}
	// 旧结构中已不再使用的字段，迁移时删除
	obsoleteSceneFields = []string{"sound_effects"}
	obsoleteShotFields  = []string{
		"detailed_opening_scene_description_main_character_presence",
		"detailed_closing_scene_description_main_character_presence",
	}
)

// DecodeScript 解析持久化文档；旧结构先迁移到当前版本。
// migrated 为 true 表示文档使用了旧结构。
func DecodeScript(data []byte) (script *Script, migrated bool, err error) {
	return decodeScript(data, false)
}

// DecodeScriptStrict 同 DecodeScript，但迁移后仍无法识别的字段返回错误。
// 用于调用方提交的文档
func DecodeScriptStrict(data []byte) (script *Script, migrated bool, err error) {
	return decodeScript(data, true)
}

func decodeScript(data []byte, strict bool) (script *Script, migrated bool, err error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, fmt.Errorf("decode script: %w", err)
	}

	version := 0
	if v, ok := raw["schema_version"].(float64); ok {
		version = int(v)
	}
	if version > SchemaVersion {
		return nil, false, fmt.Errorf("script schema version %d is newer than supported version %d", version, SchemaVersion)
	}

	if version < SchemaVersion {
		migrateDocument(raw)
		raw["schema_version"] = SchemaVersion
		migrated = true
		data, err = json.Marshal(raw)
		if err != nil {
			return nil, false, fmt.Errorf("re-encode migrated script: %w", err)
		}
	}

	script = &Script{}
	if strict {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(script)
	} else {
		err = json.Unmarshal(data, script)
	}
	if err != nil {
		return nil, false, fmt.Errorf("decode script: %w", err)
	}
	if script.Chapters == nil {
		script.Chapters = []Chapter{}
	}
	return script, migrated, nil
}

func migrateDocument(raw map[string]interface{}) {
	if details, ok := raw["project_details"].(map[string]interface{}); ok {
		renameFields(details, legacyProjectFields)
	}

	chapters, _ := raw["chapters"].([]interface{})
	for _, c := range chapters {
		chapter, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		scenes, _ := chapter["scenes"].([]interface{})
		for _, s := range scenes {
			scene, ok := s.(map[string]interface{})
			if !ok {
				continue
			}
			renameFields(scene, legacySceneFields)
			deleteFields(scene, obsoleteSceneFields)
			shots, _ := scene["shots"].([]interface{})
			for _, sh := range shots {
				shot, ok := sh.(map[string]interface{})
				if !ok {
					continue
				}
				renameFields(shot, legacyShotFields)
				deleteFields(shot, obsoleteShotFields)
				normalizeStillImage(shot)
			}
		}
	}
}

// renameFields 仅在新字段缺失时搬移旧字段
func renameFields(obj map[string]interface{}, mapping map[string]string) {
	for oldKey, newKey := range mapping {
		value, ok := obj[oldKey]
		if !ok {
			continue
		}
		delete(obj, oldKey)
		if existing, has := obj[newKey]; has && existing != nil && existing != "" {
			continue
		}
		obj[newKey] = value
	}
}

func deleteFields(obj map[string]interface{}, keys []string) {
	for _, k := range keys {
		delete(obj, k)
	}
}

// normalizeStillImage 旧文档中 still_image 可能是字符串
func normalizeStillImage(shot map[string]interface{}) {
	switch v := shot["still_image"].(type) {
	case string:
		shot["still_image"] = ParseLooseBool(v)
	case nil:
		delete(shot, "still_image")
	}
}

// ParseLooseBool 解析模型常输出的 "true"/"yes"/"1" 等布尔字符串
func ParseLooseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "y", "1":
		return true
	default:
		return false
	}
}
