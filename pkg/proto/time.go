//
//  Copyright 2023 PayPal Inc.
//
//  Licensed to the Apache Software Foundation (ASF) under one or more
//  contributor license agreements.  See the NOTICE file distributed with
//  this work for additional information regarding copyright ownership.
//  The ASF licenses this file to You under the Apache License, Version 2.0
//  (the "License"); you may not use this file except in compliance with
//  the License.  You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.
//

package proto

import "time"

// SendingTimeLayout is UTCTimestamp with milliseconds.
const SendingTimeLayout = "20060102-15:04:05.000"

func AppendSendingTime(dst []byte, t time.Time) []byte {
	return t.UTC().AppendFormat(dst, SendingTimeLayout)
}

func FormatSendingTime(t time.Time) string {
	return string(AppendSendingTime(nil, t))
}

// ParseSendingTime accepts values with or without the millisecond part.
func ParseSendingTime(v []byte) (time.Time, error) {
	layout := SendingTimeLayout
	if len(v) == len("20060102-15:04:05") {
		layout = "20060102-15:04:05"
	}
	return time.ParseInLocation(layout, string(v), time.UTC)
}
