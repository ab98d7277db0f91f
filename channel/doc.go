// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel connects chat platforms to the group queue.
//
// An Adapter speaks one platform (WhatsApp, Telegram, a local console)
// and knows nothing about groups, queues, or sandboxes; it hands every
// inbound message to the Router and sends outbound text on request.
// The Router owns the mapping from channel-native chat identifiers to
// registered groups: it logs each inbound message, auto-registers new
// chats on adapters that allow it, applies the trigger filter, and
// submits triggered messages to the group queue. Outbound replies are
// routed back to whichever adapter owns the destination chat id.
package channel
