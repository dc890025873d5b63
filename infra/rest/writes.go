package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/core/model"
)

func (c *Client) CreateDispatch(ctx context.Context) (model.Dispatch, error) {
	var d model.Dispatch
	err := c.sendJSON(ctx, http.MethodPost, nil, &d, "dispatches")
	return d, err
}

func (c *Client) RerouteDispatch(ctx context.Context, dispatchID string) (model.Dispatch, error) {
	var d model.Dispatch
	err := c.sendJSON(ctx, http.MethodPost, nil, &d, "dispatches", dispatchID, "reroute")
	return d, err
}

func (c *Client) MarkOrderDone(ctx context.Context, orderID string) error {
	return c.sendJSON(ctx, http.MethodPut, nil, nil, "orders", orderID, "done")
}

func (c *Client) MarkRouteDone(ctx context.Context, routeID string) error {
	return c.sendJSON(ctx, http.MethodPut, nil, nil, "routes", routeID, "done")
}

func (c *Client) MarkDispatchDone(ctx context.Context, dispatchID string) error {
	return c.sendJSON(ctx, http.MethodPut, nil, nil, "dispatches", dispatchID, "done")
}

func (c *Client) CreateOrder(ctx context.Context, in backend.OrderInput) (model.Order, error) {
	return c.writeOrder(ctx, http.MethodPost, in, "orders")
}

func (c *Client) UpdateOrder(ctx context.Context, id string, in backend.OrderInput) (model.Order, error) {
	return c.writeOrder(ctx, http.MethodPut, in, "orders", id)
}

type orderBody struct {
	UserID    string  `json:"userId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Weight    float64 `json:"weight"`
	Category  string  `json:"category"`
}

func (c *Client) writeOrder(ctx context.Context, method string, in backend.OrderInput, path ...string) (model.Order, error) {
	var o model.Order
	if in.Image == nil {
		err := c.sendJSON(ctx, method, orderBody{
			UserID: in.UserID, Latitude: in.Latitude, Longitude: in.Longitude,
			Weight: in.Weight, Category: in.Category,
		}, &o, path...)
		return o, err
	}
	body, contentType, err := multipartOrder(in)
	if err != nil {
		return o, err
	}
	err = c.do(ctx, request{method: method, path: path, body: body, contentType: contentType}, &o)
	return o, err
}

// multipartOrder encodes the order fields as form values and the image as
// the "image" file part.
func multipartOrder(in backend.OrderInput) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"userId", in.UserID},
		{"latitude", strconv.FormatFloat(in.Latitude, 'f', -1, 64)},
		{"longitude", strconv.FormatFloat(in.Longitude, 'f', -1, 64)},
		{"weight", strconv.FormatFloat(in.Weight, 'f', -1, 64)},
		{"category", in.Category},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, in.Image.Filename))
	ct := in.Image.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create image part: %w", err)
	}
	if _, err := io.Copy(part, in.Image.Data); err != nil {
		return nil, "", fmt.Errorf("failed to copy image: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
