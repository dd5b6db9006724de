/*
Copyright 2018 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const (
	configMapKeyPrefix = "lvp-vol-"
	dataKey            = "data.json"
)

// ConfigMapStore is a VolumeStore backed by one namespaced ConfigMap per
// volume, each carrying a single "data.json" field with the same JSON
// encoding BoltStore uses. The two encodings round-trip interchangeably.
type ConfigMapStore struct {
	client    kubernetes.Interface
	namespace string
}

// NewConfigMapStore builds a store that reads and writes ConfigMaps in
// namespace via client.
func NewConfigMapStore(client kubernetes.Interface, namespace string) *ConfigMapStore {
	return &ConfigMapStore{client: client, namespace: namespace}
}

func configMapName(volumeName string) string {
	return configMapKeyPrefix + volumeName
}

func (s *ConfigMapStore) Create(ctx context.Context, v *Volume) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: failed to encode volume %q: %w", v.Name, err)
	}

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      configMapName(v.Name),
			Namespace: s.namespace,
		},
		Data: map[string]string{dataKey: string(data)},
	}

	_, err = s.client.CoreV1().ConfigMaps(s.namespace).Create(ctx, cm, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("store: failed to create configmap for volume %q: %w", v.Name, err)
	}
	return nil
}

func (s *ConfigMapStore) Update(ctx context.Context, v *Volume) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: failed to encode volume %q: %w", v.Name, err)
	}

	name := configMapName(v.Name)
	cm, err := s.client.CoreV1().ConfigMaps(s.namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		cm = &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: s.namespace},
		}
		cm.Data = map[string]string{dataKey: string(data)}
		_, err = s.client.CoreV1().ConfigMaps(s.namespace).Create(ctx, cm, metav1.CreateOptions{})
		if err != nil {
			return fmt.Errorf("store: failed to create configmap for volume %q: %w", v.Name, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: failed to fetch configmap for volume %q: %w", v.Name, err)
	}

	if cm.Data == nil {
		cm.Data = map[string]string{}
	}
	cm.Data[dataKey] = string(data)
	_, err = s.client.CoreV1().ConfigMaps(s.namespace).Update(ctx, cm, metav1.UpdateOptions{})
	if err != nil {
		return fmt.Errorf("store: failed to update configmap for volume %q: %w", v.Name, err)
	}
	return nil
}

func (s *ConfigMapStore) Delete(ctx context.Context, name string) error {
	err := s.client.CoreV1().ConfigMaps(s.namespace).Delete(ctx, configMapName(name), metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("store: failed to delete configmap for volume %q: %w", name, err)
	}
	return nil
}

func (s *ConfigMapStore) Load(ctx context.Context, name string) (*Volume, error) {
	cm, err := s.client.CoreV1().ConfigMaps(s.namespace).Get(ctx, configMapName(name), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to load volume %q: %w", name, err)
	}
	raw, ok := cm.Data[dataKey]
	if !ok {
		return nil, fmt.Errorf("store: configmap for volume %q missing %q", name, dataKey)
	}
	v := &Volume{}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return nil, fmt.Errorf("store: failed to decode volume %q: %w", name, err)
	}
	return v, nil
}

func (s *ConfigMapStore) List(ctx context.Context) ([]*Volume, error) {
	list, err := s.client.CoreV1().ConfigMaps(s.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("store: failed to list volumes: %w", err)
	}

	var out []*Volume
	for i := range list.Items {
		cm := &list.Items[i]
		if !strings.HasPrefix(cm.Name, configMapKeyPrefix) {
			continue
		}
		raw, ok := cm.Data[dataKey]
		if !ok {
			continue
		}
		v := &Volume{}
		if err := json.Unmarshal([]byte(raw), v); err != nil {
			return nil, fmt.Errorf("store: failed to decode volume from configmap %q: %w", cm.Name, err)
		}
		out = append(out, v)
	}
	return out, nil
}
