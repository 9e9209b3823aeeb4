// Package models tracks all api models for request and responses
package models

import "github.com/tpersp/piviewer/store"

type UpdateConfigRequest struct {
	Displays map[string]store.SlotConfig `json:"displays"`
}

type UpdateSettingsRequest struct {
	Role     store.Role `json:"role"`
	MainAddr string     `json:"main_addr"`
}

type AddDeviceRequest struct {
	Name string `json:"name"`
	Addr string `json:"addr"`
}

type PushDeviceRequest struct {
	Displays map[string]store.SlotConfig `json:"displays"`
}

type UploadResponse struct {
	FileName string `json:"file_name"`
	Folder   string `json:"folder"`
	Message  string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
